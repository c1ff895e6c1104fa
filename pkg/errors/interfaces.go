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

// UserVisibleError defines errors that should be displayed to end users
// with user-friendly messages and actionable suggestions.
type UserVisibleError interface {
	error

	// IsUserVisible returns true if this error should be shown to users.
	// Internal errors or debugging details should return false.
	IsUserVisible() bool

	// UserMessage returns a user-friendly error message.
	// This should avoid technical jargon and implementation details.
	UserMessage() string

	// Suggestion returns actionable guidance for resolving the error.
	// Returns empty string if no suggestion is available.
	Suggestion() string
}

// ErrorClassifier defines methods for programmatic error handling.
// Errors that implement this interface can be classified by type
// for retry logic, error reporting, or specific handling paths.
type ErrorClassifier interface {
	error

	// ErrorType returns a string identifying the error category.
	// Examples: "configuration", "connection", "discovery", "tool_execution"
	ErrorType() string

	// IsRetryable returns true if the operation should be retried.
	IsRetryable() bool
}

// ErrorType implements ErrorClassifier for ConfigurationError.
func (e *ConfigurationError) ErrorType() string { return "configuration" }

// IsRetryable implements ErrorClassifier. Configuration errors are
// deterministic and never retried.
func (e *ConfigurationError) IsRetryable() bool { return false }

// ErrorType implements ErrorClassifier for ConnectionError.
func (e *ConnectionError) ErrorType() string { return "connection" }

// IsRetryable implements ErrorClassifier. A terminal connection error
// has already consumed its retry budget.
func (e *ConnectionError) IsRetryable() bool { return false }

// ErrorType implements ErrorClassifier for DiscoveryError.
func (e *DiscoveryError) ErrorType() string { return "discovery" }

// IsRetryable implements ErrorClassifier. Discovery is idempotent and
// safe to rerun.
func (e *DiscoveryError) IsRetryable() bool { return true }

// ErrorType implements ErrorClassifier for ToolExecutionError.
func (e *ToolExecutionError) ErrorType() string { return "tool_execution" }

// IsRetryable implements ErrorClassifier. Tool calls may have side
// effects and are never retried automatically.
func (e *ToolExecutionError) IsRetryable() bool { return false }

// ErrorType implements ErrorClassifier for ProtocolError.
func (e *ProtocolError) ErrorType() string { return "protocol" }

// IsRetryable implements ErrorClassifier.
func (e *ProtocolError) IsRetryable() bool { return false }

// ErrorType implements ErrorClassifier for ProviderError.
func (e *ProviderError) ErrorType() string { return "provider" }

// IsRetryable implements ErrorClassifier. Rate limiting, server-side
// failures, and transport errors (no status, underlying cause) are
// transient; client errors are not.
func (e *ProviderError) IsRetryable() bool {
	if e.StatusCode == 429 || e.StatusCode >= 500 {
		return true
	}
	return e.StatusCode == 0 && e.Cause != nil
}

// ErrorType implements ErrorClassifier for TimeoutError.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier. Timeouts are transient.
func (e *TimeoutError) IsRetryable() bool { return true }
