package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tombee/switchboard/pkg/errors"
	"github.com/tombee/switchboard/pkg/llm"
)

func TestNewAnthropicProvider(t *testing.T) {
	provider, err := NewAnthropicProvider("test-api-key")
	if err != nil {
		t.Fatalf("failed to create provider with valid API key: %v", err)
	}
	if provider == nil {
		t.Fatal("expected provider, got nil")
	}

	_, err = NewAnthropicProvider("")
	if err == nil {
		t.Error("expected error with empty API key, got nil")
	}
}

func TestAnthropicProvider_Name(t *testing.T) {
	provider, _ := NewAnthropicProvider("test-api-key")
	if provider.Name() != "anthropic" {
		t.Errorf("expected provider name 'anthropic', got '%s'", provider.Name())
	}
}

func TestAnthropicProvider_Capabilities(t *testing.T) {
	provider, _ := NewAnthropicProvider("test-api-key")
	if !provider.Capabilities().Tools {
		t.Error("expected tools capability")
	}
}

// newAnthropicTestServer fakes the Messages API with a fixed response.
func newAnthropicTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *AnthropicProvider) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := NewAnthropicProvider("test-api-key")
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	provider.baseURL = server.URL

	return server, provider
}

func TestAnthropicProvider_Complete_Text(t *testing.T) {
	var gotReq anthropicRequest
	_, provider := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-api-key" {
			t.Errorf("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("missing anthropic-version header")
		}

		_ = json.NewDecoder(r.Body).Decode(&gotReq)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "msg_1",
			"model": "claude-sonnet-4-20250514",
			"content": []map[string]interface{}{
				{"type": "text", "text": "Hello there"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
	})

	resp, err := provider.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.MessageRoleSystem, Content: "be brief"},
			{Role: llm.MessageRoleUser, Content: "say hello"},
		},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if resp.Content != "Hello there" {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if resp.FinishReason != llm.FinishReasonStop {
		t.Errorf("unexpected finish reason: %v", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("unexpected token total: %d", resp.Usage.TotalTokens)
	}

	// System messages ride in the dedicated field, not the message list
	if gotReq.System != "be brief" {
		t.Errorf("system prompt = %q", gotReq.System)
	}
	if len(gotReq.Messages) != 1 {
		t.Errorf("expected 1 API message, got %d", len(gotReq.Messages))
	}
}

func TestAnthropicProvider_Complete_ToolUse(t *testing.T) {
	_, provider := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "msg_2",
			"model": "claude-sonnet-4-20250514",
			"content": []map[string]interface{}{
				{"type": "text", "text": "Let me check."},
				{
					"type":  "tool_use",
					"id":    "toolu_1",
					"name":  "web_search",
					"input": map[string]interface{}{"query": "weather"},
				},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]int{"input_tokens": 20, "output_tokens": 12},
		})
	})

	resp, err := provider.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "weather?"}},
		Tools: []llm.Tool{
			{Name: "web_search", Description: "search the web"},
		},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if resp.FinishReason != llm.FinishReasonToolCalls {
		t.Errorf("unexpected finish reason: %v", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}

	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Name != "web_search" {
		t.Errorf("unexpected tool call: %+v", tc)
	}

	var args map[string]string
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["query"] != "weather" {
		t.Errorf("unexpected arguments: %v", args)
	}
}

func TestAnthropicProvider_Complete_APIError(t *testing.T) {
	_, provider := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"type":    "authentication_error",
				"message": "invalid x-api-key",
			},
		})
	})

	_, err := provider.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var provErr *errors.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if provErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", provErr.StatusCode)
	}
}

func TestAnthropicProvider_Complete_EmptyMessages(t *testing.T) {
	provider, _ := NewAnthropicProvider("test-api-key")

	_, err := provider.Complete(context.Background(), llm.CompletionRequest{})
	if err == nil {
		t.Fatal("expected validation error for empty messages")
	}

	var valErr *errors.ValidationError
	if !errors.As(err, &valErr) {
		t.Errorf("expected ValidationError, got %T", err)
	}
}

func TestMapStopReason(t *testing.T) {
	tests := []struct {
		stop string
		want llm.FinishReason
	}{
		{"end_turn", llm.FinishReasonStop},
		{"stop_sequence", llm.FinishReasonStop},
		{"max_tokens", llm.FinishReasonLength},
		{"tool_use", llm.FinishReasonToolCalls},
		{"content_filtered", llm.FinishReasonContentFilter},
		{"something-new", llm.FinishReasonStop},
	}

	for _, tt := range tests {
		if got := mapStopReason(tt.stop); got != tt.want {
			t.Errorf("mapStopReason(%q) = %v, want %v", tt.stop, got, tt.want)
		}
	}
}
