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

import "context"

// Transport is the engine's view of one tool server connection. A
// Transport owns exactly one subprocess; it is never shared between
// sessions. The concrete implementation is Client; tests substitute
// mcptest.MockTransport.
type Transport interface {
	// Connect spawns the server process and completes the protocol
	// handshake. It applies the descriptor's launch-class timeout and
	// retry policy.
	Connect(ctx context.Context) error

	// ListTools retrieves the tools the server advertises.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// ListResources retrieves the resources the server advertises.
	ListResources(ctx context.Context) ([]ResourceDefinition, error)

	// CallTool executes a tool with the given arguments.
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error)

	// ReadResource reads the content of a resource.
	ReadResource(ctx context.Context, req ResourceReadRequest) (*ResourceReadResponse, error)

	// Ping checks the server is still responsive.
	Ping(ctx context.Context) error

	// Close tears down the connection and stops the process.
	Close() error
}

// Dialer creates an unconnected Transport for a descriptor. The Session
// Pool and the Discovery Engine hold a Dialer rather than constructing
// clients directly so tests can inject mock transports.
type Dialer func(desc ServerDescriptor) Transport
