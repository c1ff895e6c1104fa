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

// Package discovery probes configured servers for their capabilities.
// Probing uses throwaway connections that are always torn down; live
// sessions are the pool's business, never discovery's.
package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/switchboard/internal/mcp"
	"github.com/tombee/switchboard/internal/metrics"
)

// Result is the probe outcome for one server.
type Result struct {
	// Server is the configured server name.
	Server string

	// Available reports whether a connection was established.
	Available bool

	// ValidForExecution reports whether the server may be selected for
	// tool execution. A server that connected but failed capability
	// listing remains valid: its capabilities are unknown, not absent.
	ValidForExecution bool

	// Tools holds the discovered tool definitions, if listing succeeded.
	Tools []mcp.ToolDefinition

	// Resources holds the discovered resources, if the server supports
	// them and listing succeeded.
	Resources []mcp.ResourceDefinition

	// Err records the connect or listing failure, if any.
	Err error

	// Duration is how long the probe took.
	Duration time.Duration
}

// ToolCount returns the number of discovered tools.
func (r Result) ToolCount() int { return len(r.Tools) }

// ResourceCount returns the number of discovered resources.
func (r Result) ResourceCount() int { return len(r.Resources) }

// Discoverer probes servers concurrently over throwaway transports.
type Discoverer struct {
	dialer mcp.Dialer
	logger *slog.Logger
}

// New creates a Discoverer using dialer for probe connections.
func New(dialer mcp.Dialer, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{dialer: dialer, logger: logger}
}

// DiscoverAll probes every descriptor concurrently and waits for all
// probes to settle. One slow or broken server never hides the results
// of the others; its failure is recorded in its own Result. The
// returned map always has an entry per descriptor.
func (d *Discoverer) DiscoverAll(ctx context.Context, descs []mcp.ServerDescriptor) map[string]Result {
	results := make(map[string]Result, len(descs))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, desc := range descs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := d.probe(ctx, desc)
			mu.Lock()
			results[desc.Name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results
}

// Discover probes a single server.
func (d *Discoverer) Discover(ctx context.Context, desc mcp.ServerDescriptor) Result {
	return d.probe(ctx, desc)
}

func (d *Discoverer) probe(ctx context.Context, desc mcp.ServerDescriptor) Result {
	start := time.Now()
	res := Result{Server: desc.Name}

	transport := d.dialer(desc)
	defer func() {
		if err := transport.Close(); err != nil {
			d.logger.Debug("probe transport close failed", "server", desc.Name, "error", err)
		}
	}()

	if err := transport.Connect(ctx); err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		metrics.DiscoveryDuration.WithLabelValues(desc.Name, "unavailable").Observe(res.Duration.Seconds())
		d.logger.Warn("server unavailable",
			"server", desc.Name,
			"duration_ms", res.Duration.Milliseconds(),
			"error", err,
		)
		return res
	}

	res.Available = true
	res.ValidForExecution = true

	tools, err := transport.ListTools(ctx)
	if err != nil {
		// Connected but listing failed: capabilities unknown. The
		// server stays selectable, the error rides along as data.
		res.Err = err
		res.Duration = time.Since(start)
		metrics.DiscoveryDuration.WithLabelValues(desc.Name, "degraded").Observe(res.Duration.Seconds())
		d.logger.Warn("capability listing failed",
			"server", desc.Name,
			"error", err,
		)
		return res
	}
	res.Tools = tools

	// Resource listing is optional; servers without the capability
	// return an empty set, not an error worth surfacing.
	if resources, err := transport.ListResources(ctx); err == nil {
		res.Resources = resources
	} else {
		d.logger.Debug("resource listing skipped", "server", desc.Name, "error", err)
	}

	res.Duration = time.Since(start)
	metrics.DiscoveryDuration.WithLabelValues(desc.Name, "ok").Observe(res.Duration.Seconds())
	d.logger.Debug("server discovered",
		"server", desc.Name,
		"tools", len(res.Tools),
		"resources", len(res.Resources),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res
}
