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

package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/switchboard/internal/mcp"
	"github.com/tombee/switchboard/internal/mcp/mcptest"
)

func desc(name string) mcp.ServerDescriptor {
	return mcp.ServerDescriptor{Name: name, Command: "srv"}
}

func TestDiscoverAll_AllHealthy(t *testing.T) {
	reg := mcptest.NewRegistry()

	search := mcptest.NewMockTransport(desc("search"))
	search.Tools = []mcp.ToolDefinition{{Name: "web_search"}, {Name: "news_search"}}
	reg.Register("search", search)

	files := mcptest.NewMockTransport(desc("files"))
	files.Tools = []mcp.ToolDefinition{{Name: "read_file"}}
	files.Resources = []mcp.ResourceDefinition{{URI: "file:///data", Name: "data"}}
	reg.Register("files", files)

	d := New(reg.Dial, nil)
	results := d.DiscoverAll(context.Background(), []mcp.ServerDescriptor{desc("search"), desc("files")})

	require.Len(t, results, 2)

	require.True(t, results["search"].Available)
	require.True(t, results["search"].ValidForExecution)
	require.Equal(t, 2, results["search"].ToolCount())
	require.NoError(t, results["search"].Err)

	require.Equal(t, 1, results["files"].ToolCount())
	require.Equal(t, 1, results["files"].ResourceCount())
}

func TestDiscoverAll_UnavailableServerIsIsolated(t *testing.T) {
	reg := mcptest.NewRegistry()

	broken := mcptest.NewMockTransport(desc("broken"))
	broken.ConnectFunc = func(ctx context.Context) error {
		return errors.New("spawn failed")
	}
	reg.Register("broken", broken)

	healthy := mcptest.NewMockTransport(desc("healthy"))
	healthy.Tools = []mcp.ToolDefinition{{Name: "ok"}}
	reg.Register("healthy", healthy)

	d := New(reg.Dial, nil)
	results := d.DiscoverAll(context.Background(), []mcp.ServerDescriptor{desc("broken"), desc("healthy")})

	require.False(t, results["broken"].Available)
	require.False(t, results["broken"].ValidForExecution)
	require.Error(t, results["broken"].Err)

	require.True(t, results["healthy"].Available)
	require.Equal(t, 1, results["healthy"].ToolCount())
}

func TestDiscoverAll_ListingFailureKeepsServerSelectable(t *testing.T) {
	reg := mcptest.NewRegistry()

	flaky := mcptest.NewMockTransport(desc("flaky"))
	flaky.ListToolsFunc = func(ctx context.Context) ([]mcp.ToolDefinition, error) {
		return nil, errors.New("tools/list timed out")
	}
	reg.Register("flaky", flaky)

	d := New(reg.Dial, nil)
	res := d.Discover(context.Background(), desc("flaky"))

	require.True(t, res.Available)
	require.True(t, res.ValidForExecution)
	require.Zero(t, res.ToolCount())
	require.Error(t, res.Err)
}

func TestDiscoverAll_SettlesDespiteSlowServer(t *testing.T) {
	reg := mcptest.NewRegistry()

	slow := mcptest.NewMockTransport(desc("slow"))
	slow.ConnectDelay = 100 * time.Millisecond
	reg.Register("slow", slow)

	fast := mcptest.NewMockTransport(desc("fast"))
	reg.Register("fast", fast)

	d := New(reg.Dial, nil)
	start := time.Now()
	results := d.DiscoverAll(context.Background(), []mcp.ServerDescriptor{desc("slow"), desc("fast")})

	// Probes run concurrently: total wall time tracks the slowest
	// server, not the sum.
	require.Less(t, time.Since(start), 3*time.Second)
	require.True(t, results["slow"].Available)
	require.True(t, results["fast"].Available)
}

func TestDiscover_AlwaysClosesProbeTransport(t *testing.T) {
	reg := mcptest.NewRegistry()

	m := mcptest.NewMockTransport(desc("search"))
	reg.Register("search", m)

	d := New(reg.Dial, nil)
	d.Discover(context.Background(), desc("search"))

	require.True(t, m.Closed())

	broken := mcptest.NewMockTransport(desc("broken"))
	broken.ConnectFunc = func(ctx context.Context) error { return errors.New("nope") }
	reg.Register("broken", broken)

	d.Discover(context.Background(), desc("broken"))
	require.True(t, broken.Closed())
}

func TestDiscoverAll_Empty(t *testing.T) {
	d := New(mcptest.NewRegistry().Dial, nil)
	results := d.DiscoverAll(context.Background(), nil)
	require.Empty(t, results)
}
