// Package mcp wraps the Model Context Protocol client used to talk to
// spawned tool servers. Each Client owns one subprocess and its stdio
// stream; the rest of the engine reaches it only through the Transport
// interface so tests can substitute a mock.
package mcp

import (
	"encoding/json"
	"strings"
	"time"
)

// LaunchClass describes how a server's launch command behaves on first
// start. It is a configuration input on the descriptor, never inferred
// at runtime.
type LaunchClass string

const (
	// LaunchClassLocal is a locally installed command. First-attempt
	// failures are treated as deterministic misconfiguration.
	LaunchClassLocal LaunchClass = "local"

	// LaunchClassRemote is a package-runner invocation (npx, uvx) that
	// may fetch the server on first start. These get longer connect
	// timeouts and a single connect retry.
	LaunchClassRemote LaunchClass = "remote"
)

// ServerDescriptor identifies a spawnable tool server. It is immutable
// once constructed; equality of (Command, Args, Env) determines
// session-key identity.
type ServerDescriptor struct {
	// Name is the unique identifier for this server
	Name string `json:"name" yaml:"name"`

	// Command is the executable to run
	Command string `json:"command" yaml:"command"`

	// Args are the command-line arguments
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env are environment variable overrides ("KEY=value")
	Env []string `json:"env,omitempty" yaml:"env,omitempty"`

	// Launch classifies the command for timeout and retry policy
	Launch LaunchClass `json:"launch,omitempty" yaml:"launch,omitempty"`

	// Timeout is the default timeout for tool calls (defaults to 30s)
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Identity returns the canonical identity string for this descriptor:
// the command, arguments, and environment joined in order. Two
// descriptors with the same identity share a session key.
func (d ServerDescriptor) Identity() string {
	parts := make([]string, 0, 2+len(d.Args)+len(d.Env))
	parts = append(parts, d.Command)
	parts = append(parts, d.Args...)
	parts = append(parts, d.Env...)
	return strings.Join(parts, "\x1f")
}

// IsRemote reports whether the descriptor uses the remote-fetch launch class.
func (d ServerDescriptor) IsRemote() bool {
	return d.Launch == LaunchClassRemote
}

// ToolDefinition represents a tool advertised by a server.
type ToolDefinition struct {
	// Name is the unique identifier for this tool
	Name string `json:"name"`

	// Description explains what the tool does
	Description string `json:"description"`

	// InputSchema defines the expected input parameters using JSON Schema
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ResourceDefinition represents a readable resource advertised by a server.
type ResourceDefinition struct {
	// URI is the unique identifier for this resource
	URI string `json:"uri"`

	// Name is a human-readable name
	Name string `json:"name"`

	// Description explains what this resource contains
	Description string `json:"description,omitempty"`

	// MimeType indicates the content type
	MimeType string `json:"mimeType,omitempty"`
}

// CapabilitySet is the discovered capability surface of one server.
// It is rebuilt on each discovery pass and never merged across servers;
// the Server tag keeps entries attributable when multiple sets coexist.
type CapabilitySet struct {
	// Server is the owning server's name
	Server string `json:"server"`

	// Tools are the advertised tools, in server order
	Tools []ToolDefinition `json:"tools"`

	// Resources are the advertised resources, in server order
	Resources []ResourceDefinition `json:"resources"`
}

// ToolCallRequest represents a request to execute a tool.
type ToolCallRequest struct {
	// Name is the tool to execute (the server's original name)
	Name string `json:"name"`

	// Arguments contains the input parameters for the tool
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolCallResponse represents the result of a tool execution.
type ToolCallResponse struct {
	// Content contains the tool's output
	Content []ContentItem `json:"content"`

	// IsError indicates if the tool execution failed
	IsError bool `json:"isError,omitempty"`
}

// Text folds the response's text content into a single string.
// Non-text content is omitted; callers needing binary payloads should
// walk Content directly.
func (r *ToolCallResponse) Text() string {
	var sb strings.Builder
	for _, item := range r.Content {
		if item.Type != "text" || item.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(item.Text)
	}
	return sb.String()
}

// ContentItem represents a piece of content in a tool response.
type ContentItem struct {
	// Type is the content type (text, image, resource)
	Type string `json:"type"`

	// Text is the text content (for type="text")
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded data (for type="image")
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary content
	MimeType string `json:"mimeType,omitempty"`
}

// ResourceReadRequest represents a request to read a resource.
type ResourceReadRequest struct {
	// URI is the resource to read
	URI string `json:"uri"`
}

// ResourceReadResponse represents the result of reading a resource.
type ResourceReadResponse struct {
	// Contents contains the resource data
	Contents []ResourceContent `json:"contents"`
}

// ResourceContent represents the content of a resource.
type ResourceContent struct {
	// URI is the resource identifier
	URI string `json:"uri"`

	// MimeType indicates the content type
	MimeType string `json:"mimeType,omitempty"`

	// Text is the text content (for text resources)
	Text string `json:"text,omitempty"`

	// Blob is the base64-encoded binary content (for binary resources)
	Blob string `json:"blob,omitempty"`
}

// ServerCapabilities describes what protocol features a server supports.
type ServerCapabilities struct {
	// Tools indicates if the server provides tools
	Tools *ToolsCapability `json:"tools,omitempty"`

	// Resources indicates if the server provides resources
	Resources *ResourcesCapability `json:"resources,omitempty"`
}

// ToolsCapability describes tool-related capabilities.
type ToolsCapability struct {
	// ListChanged indicates if the server sends notifications when tools change
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes resource-related capabilities.
type ResourcesCapability struct {
	// Subscribe indicates if the server supports resource subscriptions
	Subscribe bool `json:"subscribe,omitempty"`

	// ListChanged indicates if the server sends notifications when resources change
	ListChanged bool `json:"listChanged,omitempty"`
}
