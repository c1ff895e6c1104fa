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

// Package mcptest provides a mock Transport for tests.
package mcptest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/switchboard/internal/mcp"
)

// MockTransport implements mcp.Transport for testing. All behavior is
// configurable per method; counters record how often each operation ran.
type MockTransport struct {
	Desc mcp.ServerDescriptor

	// ConnectFunc overrides Connect. Default succeeds.
	ConnectFunc func(ctx context.Context) error

	// ListToolsFunc overrides ListTools. Default returns Tools.
	ListToolsFunc func(ctx context.Context) ([]mcp.ToolDefinition, error)

	// ListResourcesFunc overrides ListResources. Default returns Resources.
	ListResourcesFunc func(ctx context.Context) ([]mcp.ResourceDefinition, error)

	// CallToolFunc overrides CallTool. Default echoes the tool name.
	CallToolFunc func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error)

	// PingFunc overrides Ping. Default succeeds.
	PingFunc func(ctx context.Context) error

	// CloseFunc overrides Close. Default succeeds.
	CloseFunc func() error

	// Tools and Resources back the default listing behavior.
	Tools     []mcp.ToolDefinition
	Resources []mcp.ResourceDefinition

	// ConnectDelay simulates a slow-starting server.
	ConnectDelay time.Duration

	connectCalls atomic.Int64
	callCalls    atomic.Int64
	closeCalls   atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewMockTransport creates a mock for the given descriptor.
func NewMockTransport(desc mcp.ServerDescriptor) *MockTransport {
	return &MockTransport{Desc: desc}
}

// Connect implements mcp.Transport.
func (m *MockTransport) Connect(ctx context.Context) error {
	m.connectCalls.Add(1)

	if m.ConnectDelay > 0 {
		select {
		case <-time.After(m.ConnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	return nil
}

// ListTools implements mcp.Transport.
func (m *MockTransport) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	if m.ListToolsFunc != nil {
		return m.ListToolsFunc(ctx)
	}

	toolsCopy := make([]mcp.ToolDefinition, len(m.Tools))
	copy(toolsCopy, m.Tools)
	return toolsCopy, nil
}

// ListResources implements mcp.Transport.
func (m *MockTransport) ListResources(ctx context.Context) ([]mcp.ResourceDefinition, error) {
	if m.ListResourcesFunc != nil {
		return m.ListResourcesFunc(ctx)
	}

	resourcesCopy := make([]mcp.ResourceDefinition, len(m.Resources))
	copy(resourcesCopy, m.Resources)
	return resourcesCopy, nil
}

// CallTool implements mcp.Transport.
func (m *MockTransport) CallTool(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
	m.callCalls.Add(1)

	if m.CallToolFunc != nil {
		return m.CallToolFunc(ctx, req)
	}

	return &mcp.ToolCallResponse{
		Content: []mcp.ContentItem{
			{Type: "text", Text: fmt.Sprintf("mock response for %s", req.Name)},
		},
	}, nil
}

// ReadResource implements mcp.Transport.
func (m *MockTransport) ReadResource(ctx context.Context, req mcp.ResourceReadRequest) (*mcp.ResourceReadResponse, error) {
	return &mcp.ResourceReadResponse{
		Contents: []mcp.ResourceContent{
			{URI: req.URI, MimeType: "text/plain", Text: "mock resource"},
		},
	}, nil
}

// Ping implements mcp.Transport.
func (m *MockTransport) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Close implements mcp.Transport.
func (m *MockTransport) Close() error {
	m.closeCalls.Add(1)

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// ConnectCalls reports how many times Connect was invoked.
func (m *MockTransport) ConnectCalls() int {
	return int(m.connectCalls.Load())
}

// CallCalls reports how many times CallTool was invoked.
func (m *MockTransport) CallCalls() int {
	return int(m.callCalls.Load())
}

// CloseCalls reports how many times Close was invoked.
func (m *MockTransport) CloseCalls() int {
	return int(m.closeCalls.Load())
}

// Closed reports whether Close has been called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ mcp.Transport = (*MockTransport)(nil)

// Registry is a Dialer backed by pre-registered mocks, keyed by server
// name. Dialing an unregistered name creates a fresh default mock.
type Registry struct {
	mu    sync.Mutex
	mocks map[string]*MockTransport
	dials []string
}

// NewRegistry creates an empty mock registry.
func NewRegistry() *Registry {
	return &Registry{mocks: make(map[string]*MockTransport)}
}

// Register installs a mock for a server name.
func (r *Registry) Register(name string, m *MockTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mocks[name] = m
}

// Dial implements mcp.Dialer.
func (r *Registry) Dial(desc mcp.ServerDescriptor) mcp.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dials = append(r.dials, desc.Name)
	if m, ok := r.mocks[desc.Name]; ok {
		return m
	}

	m := NewMockTransport(desc)
	r.mocks[desc.Name] = m
	return m
}

// Dials returns the server names dialed, in order.
func (r *Registry) Dials() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.dials))
	copy(out, r.dials)
	return out
}
