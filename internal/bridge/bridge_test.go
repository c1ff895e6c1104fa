// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tombee/switchboard/internal/mcp"
	"github.com/tombee/switchboard/internal/mcp/mcptest"
	"github.com/tombee/switchboard/internal/session"
	pkgerrors "github.com/tombee/switchboard/pkg/errors"
	"github.com/tombee/switchboard/pkg/llm"
)

// scriptedProvider replays canned responses, one per Complete call, and
// records every request it sees.
type scriptedProvider struct {
	responses []*llm.CompletionResponse
	requests  []llm.CompletionRequest
	tools     bool
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Tools: p.tools}
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, errors.New("scripted provider exhausted")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func newBridgeSession(t *testing.T, mock *mcptest.MockTransport) *session.Session {
	t.Helper()

	desc := mcp.ServerDescriptor{Name: "web-search", Command: "npx"}
	reg := mcptest.NewRegistry()
	reg.Register(desc.Name, mock)

	pool := session.NewPool(session.PoolConfig{Dialer: reg.Dial})
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	sess, err := pool.GetOrCreate(context.Background(), "sess-1", "creds", desc)
	require.NoError(t, err)
	return sess
}

func TestExecute_NoToolCalls_SingleRound(t *testing.T) {
	provider := &scriptedProvider{
		tools: true,
		responses: []*llm.CompletionResponse{
			{Content: "direct answer", FinishReason: llm.FinishReasonStop},
		},
	}

	mock := mcptest.NewMockTransport(mcp.ServerDescriptor{Name: "web-search"})
	sess := newBridgeSession(t, mock)

	b := New(provider, "test-model", nil)
	result, err := b.Execute(context.Background(), "just chat", sess, []mcp.ToolDefinition{
		{Name: "web_search", Description: "search"},
	})
	require.NoError(t, err)

	require.Equal(t, "direct answer", result.Response)
	require.Empty(t, result.ToolsUsed)
	require.Len(t, provider.requests, 1, "no tool calls means exactly one model round")
	require.Zero(t, mock.CallCalls(), "no tool should be dispatched")
}

func TestExecute_ToolCalls_TwoRounds(t *testing.T) {
	provider := &scriptedProvider{
		tools: true,
		responses: []*llm.CompletionResponse{
			{
				Content:      "checking",
				FinishReason: llm.FinishReasonToolCalls,
				ToolCalls: []llm.ToolCall{
					{ID: "call_1", Name: "web_search", Arguments: `{"query":"weather"}`},
				},
			},
			{Content: "it is sunny", FinishReason: llm.FinishReasonStop},
		},
	}

	mock := mcptest.NewMockTransport(mcp.ServerDescriptor{Name: "web-search"})
	mock.CallToolFunc = func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		require.Equal(t, "web_search", req.Name)
		require.Equal(t, "weather", req.Arguments["query"])
		return &mcp.ToolCallResponse{
			Content: []mcp.ContentItem{{Type: "text", Text: "sunny, 22C"}},
		}, nil
	}
	sess := newBridgeSession(t, mock)

	b := New(provider, "test-model", nil)
	result, err := b.Execute(context.Background(), "weather?", sess, []mcp.ToolDefinition{
		{Name: "web_search", Description: "search"},
	})
	require.NoError(t, err)

	require.Equal(t, "it is sunny", result.Response)
	require.Len(t, result.ToolsUsed, 1)
	require.Equal(t, "call_1", result.ToolsUsed[0].CallID)
	require.Equal(t, "web_search", result.ToolsUsed[0].Tool)
	require.Equal(t, "web-search", result.ToolsUsed[0].Server)
	require.Equal(t, "sunny, 22C", result.ToolsUsed[0].Output)
	require.False(t, result.ToolsUsed[0].IsError)

	require.Len(t, provider.requests, 2)
	require.NotEmpty(t, provider.requests[0].Tools, "round 1 offers tools")
	require.Empty(t, provider.requests[1].Tools, "round 2 offers no tools")

	// The tool result reaches round 2 correlated by call id.
	var toolMsg *llm.Message
	for i := range provider.requests[1].Messages {
		if provider.requests[1].Messages[i].Role == llm.MessageRoleTool {
			toolMsg = &provider.requests[1].Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	require.Equal(t, "call_1", toolMsg.ToolCallID)
	require.Equal(t, "sunny, 22C", toolMsg.Content)

	require.Equal(t, session.StateConnected, sess.State(), "session released after dispatch")
}

func TestExecute_ToolFailureSurfacedToModel(t *testing.T) {
	provider := &scriptedProvider{
		tools: true,
		responses: []*llm.CompletionResponse{
			{
				FinishReason: llm.FinishReasonToolCalls,
				ToolCalls: []llm.ToolCall{
					{ID: "call_1", Name: "web_search", Arguments: `{"query":"x"}`},
				},
			},
			{Content: "the search failed", FinishReason: llm.FinishReasonStop},
		},
	}

	mock := mcptest.NewMockTransport(mcp.ServerDescriptor{Name: "web-search"})
	mock.CallToolFunc = func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		return nil, errors.New("connection reset")
	}
	sess := newBridgeSession(t, mock)

	b := New(provider, "test-model", nil)
	result, err := b.Execute(context.Background(), "weather?", sess, []mcp.ToolDefinition{
		{Name: "web_search"},
	})
	require.NoError(t, err, "a failed tool call never fails the request")

	require.Equal(t, "the search failed", result.Response)
	require.Len(t, result.ToolsUsed, 1)
	require.True(t, result.ToolsUsed[0].IsError)
	require.Contains(t, result.ToolsUsed[0].Output, "connection reset")
}

func TestExecute_ToolErrorFlagPreserved(t *testing.T) {
	provider := &scriptedProvider{
		tools: true,
		responses: []*llm.CompletionResponse{
			{
				FinishReason: llm.FinishReasonToolCalls,
				ToolCalls: []llm.ToolCall{
					{ID: "call_1", Name: "web_search", Arguments: `{}`},
				},
			},
			{Content: "done", FinishReason: llm.FinishReasonStop},
		},
	}

	mock := mcptest.NewMockTransport(mcp.ServerDescriptor{Name: "web-search"})
	mock.CallToolFunc = func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		return &mcp.ToolCallResponse{
			Content: []mcp.ContentItem{{Type: "text", Text: "rate limited"}},
			IsError: true,
		}, nil
	}
	sess := newBridgeSession(t, mock)

	b := New(provider, "test-model", nil)
	result, err := b.Execute(context.Background(), "weather?", sess, []mcp.ToolDefinition{
		{Name: "web_search"},
	})
	require.NoError(t, err)
	require.True(t, result.ToolsUsed[0].IsError)
	require.Equal(t, "rate limited", result.ToolsUsed[0].Output)
}

func TestExecute_InvalidArgumentsNotDispatched(t *testing.T) {
	provider := &scriptedProvider{
		tools: true,
		responses: []*llm.CompletionResponse{
			{
				FinishReason: llm.FinishReasonToolCalls,
				ToolCalls: []llm.ToolCall{
					{ID: "call_1", Name: "web_search", Arguments: `{"wrong":true}`},
				},
			},
			{Content: "could not search", FinishReason: llm.FinishReasonStop},
		},
	}

	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`)

	mock := mcptest.NewMockTransport(mcp.ServerDescriptor{Name: "web-search"})
	sess := newBridgeSession(t, mock)

	b := New(provider, "test-model", nil)
	result, err := b.Execute(context.Background(), "weather?", sess, []mcp.ToolDefinition{
		{Name: "web_search", InputSchema: schema},
	})
	require.NoError(t, err)

	require.True(t, result.ToolsUsed[0].IsError)
	require.Contains(t, result.ToolsUsed[0].Output, "schema")
	require.Zero(t, mock.CallCalls(), "invalid arguments never reach the server")
}

func TestExecute_ConcurrentCallsPreserveOrder(t *testing.T) {
	provider := &scriptedProvider{
		tools: true,
		responses: []*llm.CompletionResponse{
			{
				FinishReason: llm.FinishReasonToolCalls,
				ToolCalls: []llm.ToolCall{
					{ID: "call_a", Name: "fs_read", Arguments: `{"path":"a"}`},
					{ID: "call_b", Name: "fs_read", Arguments: `{"path":"b"}`},
					{ID: "call_c", Name: "fs_read", Arguments: `{"path":"c"}`},
				},
			},
			{Content: "all read", FinishReason: llm.FinishReasonStop},
		},
	}

	mock := mcptest.NewMockTransport(mcp.ServerDescriptor{Name: "web-search"})
	mock.CallToolFunc = func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		path, _ := req.Arguments["path"].(string)
		return &mcp.ToolCallResponse{
			Content: []mcp.ContentItem{{Type: "text", Text: "contents of " + path}},
		}, nil
	}
	sess := newBridgeSession(t, mock)

	b := New(provider, "test-model", nil)
	result, err := b.Execute(context.Background(), "read all", sess, []mcp.ToolDefinition{
		{Name: "fs.read"},
	})
	require.NoError(t, err)

	require.Equal(t, 3, mock.CallCalls())
	require.Len(t, result.ToolsUsed, 3)
	require.Equal(t, "call_a", result.ToolsUsed[0].CallID)
	require.Equal(t, "call_b", result.ToolsUsed[1].CallID)
	require.Equal(t, "call_c", result.ToolsUsed[2].CallID)
	require.Equal(t, "contents of a", result.ToolsUsed[0].Output)
	require.Equal(t, "contents of c", result.ToolsUsed[2].Output)
}

func TestExecute_UnknownToolName(t *testing.T) {
	provider := &scriptedProvider{
		tools: true,
		responses: []*llm.CompletionResponse{
			{
				FinishReason: llm.FinishReasonToolCalls,
				ToolCalls: []llm.ToolCall{
					{ID: "call_1", Name: "hallucinated_tool", Arguments: `{}`},
				},
			},
			{Content: "no such tool", FinishReason: llm.FinishReasonStop},
		},
	}

	mock := mcptest.NewMockTransport(mcp.ServerDescriptor{Name: "web-search"})
	sess := newBridgeSession(t, mock)

	b := New(provider, "test-model", nil)
	result, err := b.Execute(context.Background(), "weather?", sess, []mcp.ToolDefinition{
		{Name: "web_search"},
	})
	require.NoError(t, err)
	require.True(t, result.ToolsUsed[0].IsError)
	require.Contains(t, result.ToolsUsed[0].Output, "unknown tool")
	require.Zero(t, mock.CallCalls())
}

func TestExecute_ProviderWithoutToolSupport(t *testing.T) {
	provider := &scriptedProvider{
		tools: false,
		responses: []*llm.CompletionResponse{
			{Content: "plain answer", FinishReason: llm.FinishReasonStop},
		},
	}

	mock := mcptest.NewMockTransport(mcp.ServerDescriptor{Name: "web-search"})
	sess := newBridgeSession(t, mock)

	b := New(provider, "test-model", nil)
	result, err := b.Execute(context.Background(), "weather?", sess, []mcp.ToolDefinition{
		{Name: "web_search"},
	})
	require.NoError(t, err)

	require.Equal(t, "plain answer", result.Response)
	require.Empty(t, provider.requests[0].Tools, "tools are withheld from providers that cannot use them")
}

func TestExecute_NameCollisionAbortsRequest(t *testing.T) {
	provider := &scriptedProvider{tools: true}

	mock := mcptest.NewMockTransport(mcp.ServerDescriptor{Name: "web-search"})
	sess := newBridgeSession(t, mock)

	b := New(provider, "test-model", nil)
	_, err := b.Execute(context.Background(), "weather?", sess, []mcp.ToolDefinition{
		{Name: "fs.read"},
		{Name: "fs read"},
	})
	require.Error(t, err)

	var cfgErr *pkgerrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Empty(t, provider.requests, "no model round happens on a broken tool table")
}
