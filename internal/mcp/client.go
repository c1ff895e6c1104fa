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

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	apperrors "github.com/tombee/switchboard/pkg/errors"
)

const (
	// DefaultCallTimeout bounds individual tool calls.
	DefaultCallTimeout = 30 * time.Second

	// DefaultLocalConnectTimeout bounds connect for locally installed commands.
	DefaultLocalConnectTimeout = 10 * time.Second

	// DefaultRemoteConnectTimeout bounds connect for package-runner
	// commands, which may fetch the server before it can answer.
	DefaultRemoteConnectTimeout = 60 * time.Second

	// defaultRetryDelay is the pause before the single remote-class
	// connect retry.
	defaultRetryDelay = 2 * time.Second
)

// ClientOptions tune connection behavior. Zero values fall back to the
// package defaults.
type ClientOptions struct {
	// ConnectTimeout overrides the launch-class connect timeout.
	ConnectTimeout time.Duration

	// RetryDelay is the pause before the remote-class connect retry.
	RetryDelay time.Duration

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Client wraps one tool server connection over stdio. It implements
// Transport. Connection establishment retries once for remote-class
// descriptors; tool calls are never retried.
type Client struct {
	desc    ServerDescriptor
	opts    ClientOptions
	logger  *slog.Logger
	timeout time.Duration

	mu           sync.Mutex
	client       *client.Client
	capabilities *ServerCapabilities
	connected    bool
}

// NewClient creates an unconnected client for the given descriptor.
// Call Connect before using it.
func NewClient(desc ServerDescriptor, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := desc.Timeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}

	return &Client{
		desc:    desc,
		opts:    opts,
		logger:  logger.With("server", desc.Name),
		timeout: timeout,
	}
}

// Dial is the Dialer for real stdio connections.
func Dial(opts ClientOptions) Dialer {
	return func(desc ServerDescriptor) Transport {
		return NewClient(desc, opts)
	}
}

// Descriptor returns the descriptor this client was built from.
func (c *Client) Descriptor() ServerDescriptor {
	return c.desc
}

// connectTimeout resolves the per-attempt connect timeout from the
// options and the descriptor's launch class.
func (c *Client) connectTimeout() time.Duration {
	if c.opts.ConnectTimeout > 0 {
		return c.opts.ConnectTimeout
	}
	if c.desc.IsRemote() {
		return DefaultRemoteConnectTimeout
	}
	return DefaultLocalConnectTimeout
}

// Connect spawns the server process and completes the initialize
// handshake. Remote-class descriptors get exactly one retry after a
// fixed delay; local commands fail immediately since their failures are
// assumed deterministic.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if c.desc.Command == "" {
		return &apperrors.ConfigurationError{
			Key:    "command",
			Reason: fmt.Sprintf("server %q has no launch command", c.desc.Name),
		}
	}

	err := c.connectOnce(ctx)
	if err == nil {
		return nil
	}

	if !c.desc.IsRemote() {
		return &apperrors.ConnectionError{
			Server:   c.desc.Name,
			Attempts: 1,
			Message:  err.Error(),
			Cause:    err,
		}
	}

	// Remote-fetch commands exhibit transient first-attempt failures
	// while the package downloads. Tear down any partial transport,
	// wait, and try exactly once more.
	c.teardownLocked()

	delay := c.opts.RetryDelay
	if delay == 0 {
		delay = defaultRetryDelay
	}

	c.logger.Warn("connect failed, retrying remote server",
		"delay", delay,
		"error", err,
	)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return &apperrors.ConnectionError{
			Server:   c.desc.Name,
			Attempts: 1,
			Message:  ctx.Err().Error(),
			Cause:    ctx.Err(),
		}
	}

	if retryErr := c.connectOnce(ctx); retryErr != nil {
		c.teardownLocked()
		return &apperrors.ConnectionError{
			Server:   c.desc.Name,
			Attempts: 2,
			Message:  retryErr.Error(),
			Cause:    retryErr,
		}
	}

	return nil
}

// connectOnce performs a single connection attempt. Caller holds c.mu.
func (c *Client) connectOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout())
	defer cancel()

	start := time.Now()

	mcpClient, err := client.NewStdioMCPClient(c.desc.Command, c.desc.Env, c.desc.Args...)
	if err != nil {
		return fmt.Errorf("failed to create stdio client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to start server process: %w", err)
	}

	c.client = mcpClient

	if err := c.initialize(ctx); err != nil {
		_ = mcpClient.Close()
		c.client = nil
		return fmt.Errorf("initialize handshake failed: %w", err)
	}

	c.connected = true
	c.logger.Debug("server connected",
		"command", c.desc.Command,
		"launch", string(c.desc.Launch),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// initialize sends the initialize request and records the server's
// advertised capabilities. Caller holds c.mu.
func (c *Client) initialize(ctx context.Context) error {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "switchboard",
				Version: "0.1.0",
			},
		},
	}

	if _, err := c.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}

	serverCaps := c.client.GetServerCapabilities()
	c.capabilities = &ServerCapabilities{}
	if serverCaps.Tools != nil {
		c.capabilities.Tools = &ToolsCapability{
			ListChanged: serverCaps.Tools.ListChanged,
		}
	}
	if serverCaps.Resources != nil {
		c.capabilities.Resources = &ResourcesCapability{
			Subscribe:   serverCaps.Resources.Subscribe,
			ListChanged: serverCaps.Resources.ListChanged,
		}
	}

	return nil
}

// proto returns the underlying protocol client, or an error when the
// client has not been connected.
func (c *Client) proto() (*client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.client == nil {
		return nil, fmt.Errorf("server %s is not connected", c.desc.Name)
	}
	return c.client, nil
}

// ListTools retrieves the list of available tools from the server.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	mcpClient, err := c.proto()
	if err != nil {
		return nil, err
	}

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, &apperrors.DiscoveryError{
			Server:  c.desc.Name,
			Message: "failed to list tools",
			Cause:   err,
		}
	}

	tools := make([]ToolDefinition, len(result.Tools))
	for i, tool := range result.Tools {
		// Use RawInputSchema if available, otherwise marshal InputSchema
		var schemaBytes []byte
		if len(tool.RawInputSchema) > 0 {
			schemaBytes = tool.RawInputSchema
		} else {
			toolBytes, err := tool.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool %s: %w", tool.Name, err)
			}
			var toolMap map[string]interface{}
			if err := json.Unmarshal(toolBytes, &toolMap); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool %s: %w", tool.Name, err)
			}
			if inputSchema, ok := toolMap["inputSchema"]; ok {
				schemaBytes, err = json.Marshal(inputSchema)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
				}
			}
		}

		tools[i] = ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaBytes,
		}
	}

	return tools, nil
}

// ListResources retrieves the list of available resources from the server.
func (c *Client) ListResources(ctx context.Context) ([]ResourceDefinition, error) {
	mcpClient, err := c.proto()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	caps := c.capabilities
	c.mu.Unlock()

	if caps == nil || caps.Resources == nil {
		return nil, &apperrors.DiscoveryError{
			Server:  c.desc.Name,
			Message: "server does not support resources",
		}
	}

	result, err := mcpClient.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, &apperrors.DiscoveryError{
			Server:  c.desc.Name,
			Message: "failed to list resources",
			Cause:   err,
		}
	}

	resources := make([]ResourceDefinition, len(result.Resources))
	for i, resource := range result.Resources {
		resources[i] = ResourceDefinition{
			URI:         resource.URI,
			Name:        resource.Name,
			Description: resource.Description,
			MimeType:    resource.MIMEType,
		}
	}

	return resources, nil
}

// CallTool executes a tool with the given arguments. Results are never
// retried; tool calls may have side effects.
func (c *Client) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	mcpClient, err := c.proto()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	mcpReq := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		},
	}

	result, err := mcpClient.CallTool(ctx, mcpReq)
	if err != nil {
		return nil, &apperrors.ToolExecutionError{
			Server:  c.desc.Name,
			Tool:    req.Name,
			Message: "tool call failed",
			Cause:   err,
		}
	}

	response := &ToolCallResponse{
		IsError: result.IsError,
		Content: make([]ContentItem, len(result.Content)),
	}

	for i, content := range result.Content {
		item := ContentItem{}

		if textContent, ok := mcp.AsTextContent(content); ok {
			item.Type = textContent.Type
			item.Text = textContent.Text
		} else if imageContent, ok := mcp.AsImageContent(content); ok {
			item.Type = imageContent.Type
			item.Data = imageContent.Data
			item.MimeType = imageContent.MIMEType
		} else {
			// Fallback: marshal to JSON to extract fields
			contentBytes, err := json.Marshal(content)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal content: %w", err)
			}
			var contentMap map[string]interface{}
			if err := json.Unmarshal(contentBytes, &contentMap); err != nil {
				return nil, fmt.Errorf("failed to unmarshal content: %w", err)
			}

			if contentType, ok := contentMap["type"].(string); ok {
				item.Type = contentType
			}
			if text, ok := contentMap["text"].(string); ok {
				item.Text = text
			}
			if data, ok := contentMap["data"].(string); ok {
				item.Data = data
			}
			if mimeType, ok := contentMap["mimeType"].(string); ok {
				item.MimeType = mimeType
			}
		}

		response.Content[i] = item
	}

	return response, nil
}

// ReadResource reads the content of a resource.
func (c *Client) ReadResource(ctx context.Context, req ResourceReadRequest) (*ResourceReadResponse, error) {
	mcpClient, err := c.proto()
	if err != nil {
		return nil, err
	}

	result, err := mcpClient.ReadResource(ctx, mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: req.URI,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read resource: %w", err)
	}

	response := &ResourceReadResponse{
		Contents: make([]ResourceContent, len(result.Contents)),
	}

	for i, content := range result.Contents {
		item := ResourceContent{}

		if textContent, ok := mcp.AsTextResourceContents(content); ok {
			item.URI = textContent.URI
			item.MimeType = textContent.MIMEType
			item.Text = textContent.Text
		} else if blobContent, ok := mcp.AsBlobResourceContents(content); ok {
			item.URI = blobContent.URI
			item.MimeType = blobContent.MIMEType
			item.Blob = blobContent.Blob
		}

		response.Contents[i] = item
	}

	return response, nil
}

// Capabilities returns the server's advertised capabilities, or nil
// before Connect.
func (c *Client) Capabilities() *ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

// Ping checks if the server is still responsive.
func (c *Client) Ping(ctx context.Context) error {
	mcpClient, err := c.proto()
	if err != nil {
		return err
	}

	if err := mcpClient.Ping(ctx); err != nil {
		if err == io.EOF {
			return fmt.Errorf("server connection closed")
		}
		return fmt.Errorf("ping failed: %w", err)
	}

	return nil
}

// Close closes the connection to the server and stops the process.
// Closing an unconnected client is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	c.connected = false
	c.capabilities = nil

	if err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}

// teardownLocked discards a partial transport after a failed connect
// attempt. Caller holds c.mu.
func (c *Client) teardownLocked() {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
	c.connected = false
	c.capabilities = nil
}

var _ Transport = (*Client)(nil)
