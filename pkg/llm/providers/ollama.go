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

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/switchboard/pkg/errors"
	"github.com/tombee/switchboard/pkg/httpclient"
	"github.com/tombee/switchboard/pkg/llm"
)

const (
	// defaultOllamaURL is the default Ollama API endpoint
	defaultOllamaURL = "http://localhost:11434"
)

// OllamaProvider implements the Provider interface for a local Ollama
// instance over the /api/chat endpoint, including function calling for
// models that support it.
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaProvider creates a new Ollama provider instance.
func NewOllamaProvider(baseURL string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 5 * time.Minute // local models can be slow to load
	cfg.UserAgent = "switchboard-ollama/1.0"
	cfg.RetryAttempts = 0

	httpClient, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &OllamaProvider{
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// Name returns the provider identifier.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Capabilities returns the features supported by this provider.
func (p *OllamaProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Tools: true}
}

// Complete sends a completion request to the Ollama chat API.
func (p *OllamaProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	url := fmt.Sprintf("%s/api/chat", p.baseURL)

	messages := make([]ollamaChatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertOllamaMessage(msg))
	}

	chatReq := ollamaChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   false,
		Tools:    convertOllamaTools(req.Tools),
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider: "ollama",
			Message:  fmt.Sprintf("failed to marshal request: %v", err),
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{
			Provider: "ollama",
			Message:  fmt.Sprintf("failed to create request: %v", err),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider: "ollama",
			Message:  fmt.Sprintf("request failed: %v", err),
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &errors.ProviderError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, string(respBody)),
			RetryAfter: retryAfterHeader(resp),
		}
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &errors.ProviderError{
			Provider: "ollama",
			Message:  fmt.Sprintf("failed to parse response: %v", err),
		}
	}

	toolCalls := make([]llm.ToolCall, 0, len(chatResp.Message.ToolCalls))
	for _, call := range chatResp.Message.ToolCalls {
		// Ollama does not assign call ids; generate them so the
		// call/result correlation the conversation needs still holds.
		toolCalls = append(toolCalls, llm.ToolCall{
			ID:        uuid.New().String(),
			Name:      call.Function.Name,
			Arguments: string(call.Function.Arguments),
		})
	}

	finishReason := llm.FinishReasonStop
	if len(toolCalls) > 0 {
		finishReason = llm.FinishReasonToolCalls
	}

	return &llm.CompletionResponse{
		Content:      chatResp.Message.Content,
		ToolCalls:    toolCalls,
		Model:        chatResp.Model,
		FinishReason: finishReason,
		Usage: llm.TokenUsage{
			InputTokens:  chatResp.PromptEvalCount,
			OutputTokens: chatResp.EvalCount,
			TotalTokens:  chatResp.PromptEvalCount + chatResp.EvalCount,
		},
		Created: time.Now(),
	}, nil
}

// convertOllamaMessage maps a conversation message to the wire format.
// Assistant tool calls ride along so the model sees its own calls in
// the follow-up round; tool results become role "tool" messages.
func convertOllamaMessage(msg llm.Message) ollamaChatMessage {
	out := ollamaChatMessage{
		Role:    string(msg.Role),
		Content: msg.Content,
	}

	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ollamaToolCall{
			Function: ollamaFunctionCall{
				Name:      call.Name,
				Arguments: json.RawMessage(call.Arguments),
			},
		})
	}

	return out
}

// convertOllamaTools maps the offered tool set to the wire format.
// Returns nil for an empty set so the request omits the field.
func convertOllamaTools(tools []llm.Tool) []ollamaTool {
	if len(tools) == 0 {
		return nil
	}

	out := make([]ollamaTool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, ollamaTool{
			Type: "function",
			Function: ollamaFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return out
}

// ollamaChatRequest represents a request to POST /api/chat
type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Tools    []ollamaTool        `json:"tools,omitempty"`
}

// ollamaChatMessage represents a single message in the chat
type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

// ollamaTool declares a callable function to the model
type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

// ollamaFunction is the function half of a tool declaration
type ollamaFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ollamaToolCall is one function invocation in an assistant message
type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

// ollamaFunctionCall carries the invoked function name and arguments.
// Arguments arrive as a JSON object, not a string.
type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ollamaChatResponse represents the response from POST /api/chat
type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}
