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

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/switchboard/internal/bridge"
	"github.com/tombee/switchboard/internal/discovery"
	"github.com/tombee/switchboard/internal/mcp"
	"github.com/tombee/switchboard/internal/mcp/mcptest"
	"github.com/tombee/switchboard/internal/session"
	apperrors "github.com/tombee/switchboard/pkg/errors"
	"github.com/tombee/switchboard/pkg/llm"
)

// scriptedProvider replays canned responses, one per Complete call.
type scriptedProvider struct {
	responses []*llm.CompletionResponse
	calls     int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Tools: true}
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls++
	if len(p.responses) == 0 {
		return nil, errors.New("scripted provider exhausted")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

type engineFixture struct {
	engine   *Engine
	pool     *session.Pool
	registry *mcptest.Registry
	provider *scriptedProvider
}

func newFixture(t *testing.T, provider *scriptedProvider) *engineFixture {
	t.Helper()

	reg := mcptest.NewRegistry()
	pool := session.NewPool(session.PoolConfig{Dialer: reg.Dial})
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	eng := New(Options{
		Pool:       pool,
		Discoverer: discovery.New(reg.Dial, nil),
		Bridge:     bridge.New(provider, "test-model", nil),
		Dialer:     reg.Dial,
	})

	return &engineFixture{engine: eng, pool: pool, registry: reg, provider: provider}
}

func localServer(name string) mcp.ServerDescriptor {
	return mcp.ServerDescriptor{Name: name, Command: "/usr/bin/" + name, Launch: mcp.LaunchClassLocal}
}

func TestExecute_SingleServerNoToolCalls(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.CompletionResponse{
			{Content: "hello to you", FinishReason: llm.FinishReasonStop},
		},
	}
	f := newFixture(t, provider)

	result := f.engine.Execute(context.Background(), ExecuteRequest{
		SessionID:   "sess-1",
		Credentials: "creds",
		Prompt:      "say hello",
		Servers:     []mcp.ServerDescriptor{localServer("notes")},
	})

	require.True(t, result.Success)
	require.Equal(t, "hello to you", result.Response)
	require.Empty(t, result.ToolsUsed)
	require.Equal(t, "notes", result.Server)
	require.Equal(t, 1, provider.calls, "no tool calls means exactly one model round")
	require.NotEmpty(t, result.RequestID)
}

func TestExecute_SelectsSearchServerForSearchPrompt(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.CompletionResponse{
			{Content: "found it", FinishReason: llm.FinishReasonStop},
		},
	}
	f := newFixture(t, provider)

	result := f.engine.Execute(context.Background(), ExecuteRequest{
		SessionID:   "sess-1",
		Credentials: "creds",
		Prompt:      "search for the latest release notes",
		Servers: []mcp.ServerDescriptor{
			localServer("notes"),
			localServer("web-search"),
		},
	})

	require.True(t, result.Success)
	require.Equal(t, "web-search", result.Server)
	require.Contains(t, result.SelectionReason, "web-search")
}

func TestExecute_ToolErrorStillSucceeds(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.CompletionResponse{
			{
				FinishReason: llm.FinishReasonToolCalls,
				ToolCalls: []llm.ToolCall{
					{ID: "call_1", Name: "web_search", Arguments: `{"query":"x"}`},
				},
			},
			{Content: "the tool reported a problem", FinishReason: llm.FinishReasonStop},
		},
	}
	f := newFixture(t, provider)

	mock := mcptest.NewMockTransport(localServer("web-search"))
	mock.Tools = []mcp.ToolDefinition{{Name: "web_search", Description: "search"}}
	mock.CallToolFunc = func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		return &mcp.ToolCallResponse{
			Content: []mcp.ContentItem{{Type: "text", Text: "quota exceeded"}},
			IsError: true,
		}, nil
	}
	f.registry.Register("web-search", mock)

	result := f.engine.Execute(context.Background(), ExecuteRequest{
		SessionID:   "sess-1",
		Credentials: "creds",
		Prompt:      "search for x",
		Servers:     []mcp.ServerDescriptor{localServer("web-search")},
	})

	require.True(t, result.Success, "tool failures ride inside the envelope")
	require.Len(t, result.ToolsUsed, 1)
	require.True(t, result.ToolsUsed[0].IsError)
	require.Equal(t, "quota exceeded", result.ToolsUsed[0].Output)
}

func TestExecute_ConnectFailureReturnsFailureEnvelope(t *testing.T) {
	provider := &scriptedProvider{}
	f := newFixture(t, provider)

	mock := mcptest.NewMockTransport(localServer("fetcher"))
	mock.ConnectFunc = func(ctx context.Context) error {
		return &apperrors.ConnectionError{
			Server:   "fetcher",
			Attempts: 2,
			Message:  "package fetch timed out",
		}
	}
	f.registry.Register("fetcher", mock)

	result := f.engine.Execute(context.Background(), ExecuteRequest{
		SessionID:   "sess-1",
		Credentials: "creds",
		Prompt:      "fetch something",
		Servers:     []mcp.ServerDescriptor{localServer("fetcher")},
	})

	require.False(t, result.Success)
	require.Contains(t, result.Error, "after 2 attempts")
	require.Zero(t, provider.calls, "no model round on a failed connection")
}

func TestExecute_ListingFailureContinuesWithoutTools(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.CompletionResponse{
			{Content: "answered anyway", FinishReason: llm.FinishReasonStop},
		},
	}
	f := newFixture(t, provider)

	mock := mcptest.NewMockTransport(localServer("opaque"))
	mock.ListToolsFunc = func(ctx context.Context) ([]mcp.ToolDefinition, error) {
		return nil, errors.New("method not supported")
	}
	f.registry.Register("opaque", mock)

	result := f.engine.Execute(context.Background(), ExecuteRequest{
		SessionID:   "sess-1",
		Credentials: "creds",
		Prompt:      "say hello",
		Servers:     []mcp.ServerDescriptor{localServer("opaque")},
	})

	require.True(t, result.Success)
	require.Equal(t, "answered anyway", result.Response)
}

func TestExecute_Validation(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})

	result := f.engine.Execute(context.Background(), ExecuteRequest{
		SessionID: "sess-1",
		Servers:   []mcp.ServerDescriptor{localServer("notes")},
	})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "prompt")

	result = f.engine.Execute(context.Background(), ExecuteRequest{
		SessionID: "sess-1",
		Prompt:    "hello",
	})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "server")
}

func TestExecute_ReusesSessionAcrossCalls(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.CompletionResponse{
			{Content: "one", FinishReason: llm.FinishReasonStop},
			{Content: "two", FinishReason: llm.FinishReasonStop},
		},
	}
	f := newFixture(t, provider)

	mock := mcptest.NewMockTransport(localServer("notes"))
	f.registry.Register("notes", mock)

	req := ExecuteRequest{
		SessionID:   "sess-1",
		Credentials: "creds",
		Prompt:      "say hello",
		Servers:     []mcp.ServerDescriptor{localServer("notes")},
	}

	require.True(t, f.engine.Execute(context.Background(), req).Success)
	require.True(t, f.engine.Execute(context.Background(), req).Success)
	require.Equal(t, 1, mock.ConnectCalls(), "second call reuses the pooled session")
}

func TestRequestBudget(t *testing.T) {
	eng := New(Options{RequestTimeout: 2 * time.Minute})

	local := localServer("notes")
	remote := mcp.ServerDescriptor{Name: "fetch", Command: "npx", Launch: mcp.LaunchClassRemote}
	tuned := mcp.ServerDescriptor{Name: "slow", Command: "uvx", Launch: mcp.LaunchClassRemote, Timeout: 45 * time.Second}

	// Local-only candidates never raise the floor.
	require.Equal(t, 2*time.Minute, eng.requestBudget([]mcp.ServerDescriptor{local}))

	// One remote at defaults fits under the floor: 60s connect + 30s call.
	require.Equal(t, 2*time.Minute, eng.requestBudget([]mcp.ServerDescriptor{local, remote}))

	// Two remotes exceed it: (60+30) + (60+45) = 195s.
	require.Equal(t, 195*time.Second, eng.requestBudget([]mcp.ServerDescriptor{local, remote, tuned}))
}

func TestExecute_EnforcesRequestDeadline(t *testing.T) {
	reg := mcptest.NewRegistry()
	pool := session.NewPool(session.PoolConfig{Dialer: reg.Dial})
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	eng := New(Options{
		Pool:           pool,
		Discoverer:     discovery.New(reg.Dial, nil),
		Bridge:         bridge.New(&scriptedProvider{}, "test-model", nil),
		Dialer:         reg.Dial,
		RequestTimeout: 20 * time.Millisecond,
	})

	mock := mcptest.NewMockTransport(localServer("stuck"))
	mock.ConnectFunc = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	reg.Register("stuck", mock)

	result := eng.Execute(context.Background(), ExecuteRequest{
		SessionID:   "sess-1",
		Credentials: "creds",
		Prompt:      "say hello",
		Servers:     []mcp.ServerDescriptor{localServer("stuck")},
	})

	require.False(t, result.Success)
	require.Contains(t, result.Error, context.DeadlineExceeded.Error())
}

func TestListTools(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})

	mock := mcptest.NewMockTransport(localServer("notes"))
	mock.Tools = []mcp.ToolDefinition{{Name: "note.add"}, {Name: "note.list"}}
	mock.Resources = []mcp.ResourceDefinition{{URI: "notes://inbox"}}
	f.registry.Register("notes", mock)

	caps, err := f.engine.ListTools(context.Background(), "sess-1", "creds", localServer("notes"))
	require.NoError(t, err)
	require.Equal(t, "notes", caps.Server)
	require.Len(t, caps.Tools, 2)
	require.Len(t, caps.Resources, 1)
}

func TestTestConnection_NeverTouchesPool(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})

	mock := mcptest.NewMockTransport(localServer("notes"))
	mock.Tools = []mcp.ToolDefinition{{Name: "note.add"}}
	f.registry.Register("notes", mock)

	result := f.engine.TestConnection(context.Background(), localServer("notes"))

	require.True(t, result.Success)
	require.True(t, result.ValidForExecution)
	require.True(t, result.PingOK)
	require.Equal(t, 1, result.ToolsCount)
	require.True(t, mock.Closed(), "test transport is always torn down")
	require.Zero(t, f.pool.Len(), "test connections never enter the pool")
}

func TestTestConnection_Failure(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})

	mock := mcptest.NewMockTransport(localServer("broken"))
	mock.ConnectFunc = func(ctx context.Context) error {
		return errors.New("spawn failed")
	}
	f.registry.Register("broken", mock)

	result := f.engine.TestConnection(context.Background(), localServer("broken"))

	require.False(t, result.Success)
	require.Contains(t, result.Error, "spawn failed")
	require.True(t, mock.Closed())
}

func TestDisconnect(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.CompletionResponse{
			{Content: "hi", FinishReason: llm.FinishReasonStop},
		},
	}
	f := newFixture(t, provider)

	result := f.engine.Execute(context.Background(), ExecuteRequest{
		SessionID:   "sess-1",
		Credentials: "creds",
		Prompt:      "say hello",
		Servers:     []mcp.ServerDescriptor{localServer("notes")},
	})
	require.True(t, result.Success)
	require.Equal(t, 1, f.pool.Len())

	require.Equal(t, 1, f.engine.Disconnect(context.Background(), "sess-1"))
	require.Zero(t, f.pool.Len())
	require.Zero(t, f.engine.Disconnect(context.Background(), "sess-1"))
}
