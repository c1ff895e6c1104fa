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

// Package bridge drives the tool-calling conversation between the
// model and one tool server. One Execute call is at most two model
// rounds: the prompt with tools offered, then a follow-up carrying the
// tool results with no tools offered.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/switchboard/internal/mcp"
	"github.com/tombee/switchboard/internal/metrics"
	"github.com/tombee/switchboard/internal/session"
	"github.com/tombee/switchboard/pkg/llm"
)

// ToolUse records one executed tool call for the caller.
type ToolUse struct {
	// CallID is the model-assigned call correlation id.
	CallID string `json:"callId"`

	// Tool is the server's original tool name.
	Tool string `json:"tool"`

	// Server is the executing server's name.
	Server string `json:"server"`

	// Arguments is the model-provided arguments object, unmodified.
	Arguments json.RawMessage `json:"arguments"`

	// Output is the tool's serialized output.
	Output string `json:"output"`

	// IsError marks a failed execution. The failure rides along as
	// data; it never fails the request.
	IsError bool `json:"isError,omitempty"`

	// Duration is how long the dispatch took.
	Duration time.Duration `json:"-"`
}

// Result is the outcome of one Execute call.
type Result struct {
	// Response is the model's final text answer.
	Response string `json:"response"`

	// ToolsUsed reports every executed call, in the model's call order.
	ToolsUsed []ToolUse `json:"toolsUsed"`

	// Messages is the full conversation, for callers that want the
	// transcript.
	Messages []llm.Message `json:"messages"`
}

// Bridge translates between one server's tool protocol and the model's
// function-calling interface.
type Bridge struct {
	provider llm.Provider
	model    string
	logger   *slog.Logger
}

// New creates a Bridge backed by the given provider.
func New(provider llm.Provider, model string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		provider: provider,
		model:    model,
		logger:   logger,
	}
}

// Execute runs the prompt against the model with the session's tool
// set offered. Tool calls issued by the model are dispatched
// concurrently to the session's transport; their results feed exactly
// one follow-up round. ConversationState lives only for this call.
func (b *Bridge) Execute(ctx context.Context, prompt string, sess *session.Session, tools []mcp.ToolDefinition) (*Result, error) {
	server := sess.Descriptor().Name

	table, modelTools, err := BuildNameTable(tools)
	if err != nil {
		return nil, err
	}

	// Only offer tools the provider can accept.
	if !b.provider.Capabilities().Tools {
		modelTools = nil
	}

	messages := []llm.Message{
		{Role: llm.MessageRoleUser, Content: prompt},
	}

	b.logger.Debug("model round 1",
		"provider", b.provider.Name(),
		"server", server,
		"tools", describeTools(modelTools),
	)
	metrics.ModelRounds.WithLabelValues(b.provider.Name(), "1").Inc()

	roundStart := time.Now()
	first, err := b.provider.Complete(ctx, llm.CompletionRequest{
		Model:    b.model,
		Messages: messages,
		Tools:    modelTools,
	})
	metrics.ModelRoundDuration.WithLabelValues(b.provider.Name(), "1").Observe(time.Since(roundStart).Seconds())
	if err != nil {
		return nil, err
	}
	b.recordUsage(first.Usage)

	// No tool calls: the model's direct answer is terminal.
	if len(first.ToolCalls) == 0 {
		messages = append(messages, llm.Message{
			Role:    llm.MessageRoleAssistant,
			Content: first.Content,
		})
		return &Result{
			Response:  first.Content,
			ToolsUsed: []ToolUse{},
			Messages:  messages,
		}, nil
	}

	sess.Acquire(ctx)
	uses := b.dispatchAll(ctx, sess.Transport(), server, table, first.ToolCalls)
	sess.Release(ctx)

	// Reassemble the conversation: the assistant's tool-call turn, then
	// one tool-result message per call, preserving call-id correlation.
	messages = append(messages, llm.Message{
		Role:      llm.MessageRoleAssistant,
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})
	for _, use := range uses {
		messages = append(messages, llm.Message{
			Role:       llm.MessageRoleTool,
			Content:    use.Output,
			ToolCallID: use.CallID,
			Name:       use.Tool,
		})
	}

	b.logger.Debug("model round 2",
		"provider", b.provider.Name(),
		"server", server,
		"tool_calls", len(uses),
	)
	metrics.ModelRounds.WithLabelValues(b.provider.Name(), "2").Inc()

	// Round 2 offers no tools; the model folds the results into text.
	roundStart = time.Now()
	second, err := b.provider.Complete(ctx, llm.CompletionRequest{
		Model:    b.model,
		Messages: messages,
	})
	metrics.ModelRoundDuration.WithLabelValues(b.provider.Name(), "2").Observe(time.Since(roundStart).Seconds())
	if err != nil {
		return nil, err
	}
	b.recordUsage(second.Usage)

	messages = append(messages, llm.Message{
		Role:    llm.MessageRoleAssistant,
		Content: second.Content,
	})

	return &Result{
		Response:  second.Content,
		ToolsUsed: uses,
		Messages:  messages,
	}, nil
}

// dispatchAll executes the model's tool calls concurrently against the
// transport and returns one ToolUse per call, in call order.
func (b *Bridge) dispatchAll(ctx context.Context, transport mcp.Transport, server string, table *NameTable, calls []llm.ToolCall) []ToolUse {
	uses := make([]ToolUse, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			uses[i] = b.dispatch(ctx, transport, server, table, call)
		}()
	}
	wg.Wait()

	return uses
}

// dispatch executes a single model tool call. Every failure mode
// becomes an error-flagged ToolUse surfaced back to the model, never a
// request-level failure.
func (b *Bridge) dispatch(ctx context.Context, transport mcp.Transport, server string, table *NameTable, call llm.ToolCall) ToolUse {
	start := time.Now()

	use := ToolUse{
		CallID:    call.ID,
		Tool:      call.Name,
		Server:    server,
		Arguments: json.RawMessage(call.Arguments),
	}

	def, ok := table.Denormalize(call.Name)
	if !ok {
		use.Output = "unknown tool: " + call.Name
		use.IsError = true
		use.Duration = time.Since(start)
		metrics.ToolCalls.WithLabelValues(server, call.Name, "unknown").Inc()
		return use
	}
	use.Tool = def.Name

	if err := table.ValidateArguments(call.Name, call.Arguments); err != nil {
		use.Output = err.Error()
		use.IsError = true
		use.Duration = time.Since(start)
		metrics.ToolCalls.WithLabelValues(server, def.Name, "invalid_arguments").Inc()
		return use
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		use.Output = "arguments are not a JSON object: " + err.Error()
		use.IsError = true
		use.Duration = time.Since(start)
		metrics.ToolCalls.WithLabelValues(server, def.Name, "invalid_arguments").Inc()
		return use
	}

	resp, err := transport.CallTool(ctx, mcp.ToolCallRequest{
		Name:      def.Name,
		Arguments: args,
	})
	use.Duration = time.Since(start)
	metrics.ToolCallDuration.WithLabelValues(server, def.Name).Observe(use.Duration.Seconds())

	if err != nil {
		use.Output = err.Error()
		use.IsError = true
		metrics.ToolCalls.WithLabelValues(server, def.Name, "error").Inc()
		b.logger.Warn("tool call failed",
			"server", server,
			"tool", def.Name,
			"duration_ms", use.Duration.Milliseconds(),
			"error", err,
		)
		return use
	}

	use.Output = serializeResponse(resp)
	use.IsError = resp.IsError
	status := "ok"
	if resp.IsError {
		status = "tool_error"
	}
	metrics.ToolCalls.WithLabelValues(server, def.Name, status).Inc()

	b.logger.Debug("tool call completed",
		"server", server,
		"tool", def.Name,
		"duration_ms", use.Duration.Milliseconds(),
		"is_error", use.IsError,
	)
	return use
}

// serializeResponse folds a tool response into the string handed back
// to the model. Text content concatenates; anything else is
// JSON-encoded so no payload is silently dropped.
func serializeResponse(resp *mcp.ToolCallResponse) string {
	if text := resp.Text(); text != "" {
		return text
	}

	if len(resp.Content) == 0 {
		return ""
	}

	encoded, err := json.Marshal(resp.Content)
	if err != nil {
		return "unserializable tool response"
	}
	return string(encoded)
}

// recordUsage feeds token counts into the process metrics.
func (b *Bridge) recordUsage(usage llm.TokenUsage) {
	if usage.InputTokens > 0 {
		metrics.ModelTokens.WithLabelValues(b.provider.Name(), "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		metrics.ModelTokens.WithLabelValues(b.provider.Name(), "output").Add(float64(usage.OutputTokens))
	}
}
