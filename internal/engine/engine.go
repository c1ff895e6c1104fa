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

// Package engine is the orchestrator: it composes discovery, server
// selection, the session pool and the protocol bridge behind four
// operations (Execute, ListTools, TestConnection, Disconnect). Execute
// always answers with a success/failure envelope; errors never
// propagate past this boundary.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/switchboard/internal/bridge"
	"github.com/tombee/switchboard/internal/discovery"
	"github.com/tombee/switchboard/internal/mcp"
	"github.com/tombee/switchboard/internal/metrics"
	"github.com/tombee/switchboard/internal/selector"
	"github.com/tombee/switchboard/internal/session"
	"github.com/tombee/switchboard/internal/tracing"
	"github.com/tombee/switchboard/pkg/llm"
)

// defaultRequestTimeout bounds one Execute call when no configured
// value raises it.
const defaultRequestTimeout = 2 * time.Minute

// Options configure a new Engine. Pool, Discoverer, Bridge and Dialer
// are required; a nil Selector uses the keyword strategy, a nil Logger
// uses slog.Default, and a zero RequestTimeout uses the package
// default.
type Options struct {
	Pool           *session.Pool
	Discoverer     *discovery.Discoverer
	Selector       *selector.Selector
	Bridge         *bridge.Bridge
	Dialer         mcp.Dialer
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// Engine exposes the orchestration operations.
type Engine struct {
	pool           *session.Pool
	discoverer     *discovery.Discoverer
	selector       *selector.Selector
	bridge         *bridge.Bridge
	dialer         mcp.Dialer
	logger         *slog.Logger
	tracer         trace.Tracer
	requestTimeout time.Duration
}

// New assembles an Engine from its components.
func New(opts Options) *Engine {
	sel := opts.Selector
	if sel == nil {
		sel = selector.New(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = defaultRequestTimeout
	}

	return &Engine{
		pool:           opts.Pool,
		discoverer:     opts.Discoverer,
		selector:       sel,
		bridge:         opts.Bridge,
		dialer:         opts.Dialer,
		logger:         logger,
		tracer:         otel.Tracer("switchboard/engine"),
		requestTimeout: requestTimeout,
	}
}

// requestBudget sizes the Execute deadline. The configured request
// timeout is the floor; remote-class candidates raise it, since each
// may need a package fetch before it can answer its first call.
func (e *Engine) requestBudget(servers []mcp.ServerDescriptor) time.Duration {
	var remote time.Duration
	for _, desc := range servers {
		if !desc.IsRemote() {
			continue
		}
		call := desc.Timeout
		if call == 0 {
			call = mcp.DefaultCallTimeout
		}
		remote += mcp.DefaultRemoteConnectTimeout + call
	}
	if remote > e.requestTimeout {
		return remote
	}
	return e.requestTimeout
}

// ExecuteRequest is one prompt execution request.
type ExecuteRequest struct {
	// SessionID groups pooled connections for one caller.
	SessionID string `json:"sessionId"`

	// Credentials is the caller's opaque credential material.
	Credentials session.Credentials `json:"-"`

	// Prompt is the natural-language request.
	Prompt string `json:"prompt"`

	// Servers are the candidate tool servers, in caller order.
	Servers []mcp.ServerDescriptor `json:"servers"`
}

// ExecuteResult is the envelope every Execute call answers with.
type ExecuteResult struct {
	// Success reports whether the prompt produced a response.
	Success bool `json:"success"`

	// RequestID identifies this execution in logs and traces.
	RequestID string `json:"requestId"`

	// Response is the model's final answer (success only).
	Response string `json:"response,omitempty"`

	// Server is the selected server's name.
	Server string `json:"server,omitempty"`

	// SelectionReason explains why that server was chosen.
	SelectionReason string `json:"selectionReason,omitempty"`

	// ToolsUsed lists every executed tool call, failures included.
	ToolsUsed []bridge.ToolUse `json:"toolsUsed"`

	// Messages is the conversation transcript (success only).
	Messages []llm.Message `json:"messages,omitempty"`

	// Error carries the failure detail when Success is false.
	Error string `json:"error,omitempty"`
}

// Execute runs one prompt end to end: discover the candidate servers,
// select one, get or create its session, and drive the bridge. All
// failures come back inside the envelope.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) *ExecuteResult {
	start := time.Now()
	requestID := uuid.New().String()

	if tracing.FromContextOrEmpty(ctx) == "" {
		ctx = tracing.ToContext(ctx, tracing.NewCorrelationID())
	}

	ctx, cancel := context.WithTimeout(ctx, e.requestBudget(req.Servers))
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "engine.Execute",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.Int("servers.count", len(req.Servers)),
		),
	)
	defer span.End()

	logger := e.logger.With("request_id", requestID, "session_id", req.SessionID)

	result := e.execute(ctx, logger, requestID, req)

	status := "ok"
	if !result.Success {
		status = "error"
		span.SetStatus(codes.Error, result.Error)
		logger.Warn("execute failed", "error", result.Error, "duration_ms", time.Since(start).Milliseconds())
	} else {
		span.SetAttributes(attribute.String("server.selected", result.Server))
		logger.Info("execute completed",
			"server", result.Server,
			"tools_used", len(result.ToolsUsed),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	metrics.RequestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	return result
}

func (e *Engine) execute(ctx context.Context, logger *slog.Logger, requestID string, req ExecuteRequest) *ExecuteResult {
	fail := func(msg string) *ExecuteResult {
		return &ExecuteResult{
			Success:   false,
			RequestID: requestID,
			ToolsUsed: []bridge.ToolUse{},
			Error:     msg,
		}
	}

	if req.Prompt == "" {
		return fail("prompt is required")
	}
	if len(req.Servers) == 0 {
		return fail("at least one server descriptor is required")
	}

	names := make([]string, len(req.Servers))
	byName := make(map[string]mcp.ServerDescriptor, len(req.Servers))
	for i, desc := range req.Servers {
		names[i] = desc.Name
		byName[desc.Name] = desc
	}

	// A single candidate skips discovery: the selector picks it
	// unconditionally and connect errors surface from the pool.
	var results map[string]discovery.Result
	if len(req.Servers) > 1 {
		results = e.discoverer.DiscoverAll(ctx, req.Servers)
	}

	selection, err := e.selector.Select(req.Prompt, names, results)
	if err != nil {
		return fail(err.Error())
	}
	logger.Debug("server selected", "server", selection.ServerName, "reason", selection.Reason)

	sess, err := e.pool.GetOrCreate(ctx, req.SessionID, req.Credentials, byName[selection.ServerName])
	if err != nil {
		return fail(err.Error())
	}

	// A listing failure downgrades to an empty tool set rather than
	// aborting; the server stays usable without discovered metadata.
	tools, err := sess.Transport().ListTools(ctx)
	if err != nil {
		logger.Warn("tool listing failed, continuing without tools",
			"server", selection.ServerName,
			"error", err,
		)
		tools = nil
	}

	bridgeResult, err := e.bridge.Execute(ctx, req.Prompt, sess, tools)
	if err != nil {
		return fail(err.Error())
	}

	return &ExecuteResult{
		Success:         true,
		RequestID:       requestID,
		Response:        bridgeResult.Response,
		Server:          selection.ServerName,
		SelectionReason: selection.Reason,
		ToolsUsed:       bridgeResult.ToolsUsed,
		Messages:        bridgeResult.Messages,
	}
}

// ListTools returns the capability set of one server, connecting or
// reusing the caller's pooled session.
func (e *Engine) ListTools(ctx context.Context, sessionID string, creds session.Credentials, desc mcp.ServerDescriptor) (*mcp.CapabilitySet, error) {
	ctx, span := e.tracer.Start(ctx, "engine.ListTools",
		trace.WithAttributes(attribute.String("server", desc.Name)),
	)
	defer span.End()

	sess, err := e.pool.GetOrCreate(ctx, sessionID, creds, desc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tools, err := sess.Transport().ListTools(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Resource listing is best effort; plenty of servers only do tools.
	resources, err := sess.Transport().ListResources(ctx)
	if err != nil {
		e.logger.Debug("resource listing failed", "server", desc.Name, "error", err)
		resources = nil
	}

	return &mcp.CapabilitySet{
		Server:    desc.Name,
		Tools:     tools,
		Resources: resources,
	}, nil
}

// TestResult reports the outcome of a connection test.
type TestResult struct {
	Success           bool   `json:"success"`
	ToolsCount        int    `json:"toolsCount"`
	ResourcesCount    int    `json:"resourcesCount"`
	ValidForExecution bool   `json:"validForExecution"`
	PingOK            bool   `json:"pingOk"`
	Error             string `json:"error,omitempty"`
}

// TestConnection probes a server over a throwaway transport that is
// always torn down afterwards. It never touches the session pool.
func (e *Engine) TestConnection(ctx context.Context, desc mcp.ServerDescriptor) *TestResult {
	ctx, span := e.tracer.Start(ctx, "engine.TestConnection",
		trace.WithAttributes(attribute.String("server", desc.Name)),
	)
	defer span.End()

	transport := e.dialer(desc)
	defer func() {
		if err := transport.Close(); err != nil {
			e.logger.Debug("test transport close failed", "server", desc.Name, "error", err)
		}
	}()

	if err := transport.Connect(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &TestResult{Success: false, Error: err.Error()}
	}

	result := &TestResult{Success: true, ValidForExecution: true}

	tools, err := transport.ListTools(ctx)
	if err != nil {
		// Connected but not listable: still valid for execution.
		result.Error = err.Error()
	} else {
		result.ToolsCount = len(tools)
	}

	if resources, err := transport.ListResources(ctx); err == nil {
		result.ResourcesCount = len(resources)
	}

	result.PingOK = transport.Ping(ctx) == nil

	return result
}

// Disconnect tears down every pooled session belonging to the caller's
// session id and reports how many were removed.
func (e *Engine) Disconnect(ctx context.Context, sessionID string) int {
	count := e.pool.DisconnectAll(ctx, sessionID)
	e.logger.Info("sessions disconnected", "session_id", sessionID, "count", count)
	return count
}
