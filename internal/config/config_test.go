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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/switchboard/internal/mcp"
	apperrors "github.com/tombee/switchboard/pkg/errors"
)

const sampleConfig = `
servers:
  - name: search
    command: npx
    args: ["-y", "@example/server-search"]
    env: ["API_TOKEN=${SEARCH_TOKEN}"]
  - name: files
    command: /usr/local/bin/file-server
    launch: local
    timeout: 45
defaults:
  timeout: 20
  session_ttl: 300
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 2)
	require.Equal(t, "anthropic", cfg.LLM.Provider)
	require.Equal(t, 300, cfg.Defaults.SessionTTL)

	// npx is a package runner: launch class inferred as remote at load time
	require.Equal(t, string(mcp.LaunchClassRemote), cfg.Servers[0].Launch)
	require.Equal(t, string(mcp.LaunchClassLocal), cfg.Servers[1].Launch)

	// unset per-server timeout inherits defaults.timeout
	require.Equal(t, 20, cfg.Servers[0].Timeout)
	require.Equal(t, 45, cfg.Servers[1].Timeout)
}

func TestParse_DefaultsFilled(t *testing.T) {
	cfg, err := Parse([]byte("servers: []"))
	require.NoError(t, err)

	def := DefaultDefaults()
	require.Equal(t, def.Timeout, cfg.Defaults.Timeout)
	require.Equal(t, def.SweepInterval, cfg.Defaults.SweepInterval)
	require.Equal(t, def.RemoteConnectTimeout, cfg.Defaults.RemoteConnectTimeout)
	require.Equal(t, def.RequestTimeout, cfg.Defaults.RequestTimeout)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing name",
			yaml: "servers:\n  - command: foo\n",
		},
		{
			name: "invalid name",
			yaml: "servers:\n  - name: 1bad\n    command: foo\n",
		},
		{
			name: "duplicate name",
			yaml: "servers:\n  - name: a\n    command: foo\n  - name: a\n    command: bar\n",
		},
		{
			name: "missing command",
			yaml: "servers:\n  - name: a\n",
		},
		{
			name: "bad launch class",
			yaml: "servers:\n  - name: a\n    command: foo\n    launch: ssh\n",
		},
		{
			name: "not yaml",
			yaml: "{{{",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)

			var cfgErr *apperrors.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestDetectLaunchClass(t *testing.T) {
	tests := []struct {
		command string
		want    mcp.LaunchClass
	}{
		{"npx", mcp.LaunchClassRemote},
		{"/usr/bin/npx", mcp.LaunchClassRemote},
		{"uvx", mcp.LaunchClassRemote},
		{"pipx", mcp.LaunchClassRemote},
		{"python3", mcp.LaunchClassLocal},
		{"/usr/local/bin/server", mcp.LaunchClassLocal},
	}

	for _, tt := range tests {
		if got := DetectLaunchClass(tt.command); got != tt.want {
			t.Errorf("DetectLaunchClass(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestDescriptors_EnvExpansion(t *testing.T) {
	t.Setenv("SEARCH_TOKEN", "tok-123")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	descs := cfg.Descriptors()
	require.Len(t, descs, 2)
	require.Equal(t, []string{"API_TOKEN=tok-123"}, descs[0].Env)
	require.Equal(t, mcp.LaunchClassRemote, descs[0].Launch)
	require.Equal(t, 45*time.Second, descs[1].Timeout)
}

func TestDescriptor_Lookup(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	d, err := cfg.Descriptor("files")
	require.NoError(t, err)
	require.Equal(t, "files", d.Name)

	_, err = cfg.Descriptor("missing")
	var nfErr *apperrors.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Empty(t, cfg.Servers)
	require.Equal(t, DefaultDefaults().Timeout, cfg.Defaults.Timeout)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)
}

func TestConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	dir, err := ConfigDir()
	require.NoError(t, err)
	require.Equal(t, "/tmp/xdg/switchboard", dir)
}
