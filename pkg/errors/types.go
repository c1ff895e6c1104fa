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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ConfigurationError represents configuration problems: missing or
// invalid credentials, malformed server descriptors, bad config values.
type ConfigurationError struct {
	// Key is the configuration key that has the problem (e.g., "servers[0].command")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// ConnectionError represents a failure to establish a transport to a
// tool server, possibly after the configured retry.
type ConnectionError struct {
	// Server is the name of the server that failed to connect
	Server string

	// Attempts is how many connection attempts were made before giving up
	Attempts int

	// Message is the human-readable error description
	Message string

	// Cause is the underlying transport error
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("connection to %s failed after %d attempts: %s", e.Server, e.Attempts, e.Message)
	}
	return fmt.Sprintf("connection to %s failed: %s", e.Server, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// DiscoveryError represents a capability-listing failure. It is
// non-fatal: callers downgrade it to a flagged discovery result rather
// than failing the aggregate discovery pass.
type DiscoveryError struct {
	// Server is the server whose capability listing failed
	Server string

	// Message is the human-readable error description
	Message string

	// Cause is the underlying listing error
	Cause error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("capability discovery for %s failed: %s", e.Server, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// ToolExecutionError represents a dispatched tool call that failed or
// whose server reported an error payload. It is carried as data inside
// the call result, never escalated to a request-level failure.
type ToolExecutionError struct {
	// Server is the server that executed the tool
	Server string

	// Tool is the original (denormalized) tool name
	Tool string

	// Message is the human-readable error description
	Message string

	// Cause is the underlying dispatch error
	Cause error
}

// Error implements the error interface.
func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s on %s failed: %s", e.Tool, e.Server, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}

// ProtocolError represents a structurally invalid message from the
// model or a tool server.
type ProtocolError struct {
	// Source identifies who produced the invalid message ("model", server name)
	Source string

	// Message is the human-readable error description
	Message string

	// Cause is the underlying parse error
	Cause error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error from %s: %s", e.Source, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "server", "session", "provider")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ProviderError represents LLM provider failures.
// Use this for errors originating from external LLM providers.
type ProviderError struct {
	// Provider is the name of the LLM provider (e.g., "anthropic", "ollama")
	Provider string

	// Code is the provider-specific error code
	Code int

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Suggestion provides actionable guidance for resolution
	Suggestion string

	// RequestID correlates this error with provider logs
	RequestID string

	// RetryAfter is the provider-requested backoff, parsed from the
	// Retry-After header when present
	RetryAfter time.Duration

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s error", e.Provider)

	if e.Code > 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.Code)
	}

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	msg = fmt.Sprintf("%s: %s", msg, e.Message)

	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "connect", "tool dispatch")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
