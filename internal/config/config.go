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

// Package config loads and validates the engine configuration: the
// named tool-server registry, engine defaults, and the model provider
// settings. Configuration lives in a single YAML file; a Watcher can
// reload the server registry when the file changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/switchboard/internal/mcp"
	apperrors "github.com/tombee/switchboard/pkg/errors"
)

// ServerNameRegex validates tool server names.
// Names must start with a letter and contain only letters, numbers,
// hyphens, and underscores. Maximum length is 64 characters.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// packageRunners are commands that fetch a server package on first
// launch. They are consulted only at config-load time, when a server
// entry omits an explicit launch class.
var packageRunners = map[string]bool{
	"npx":  true,
	"uvx":  true,
	"pipx": true,
}

// Config is the engine configuration file layout.
// Stored at ~/.config/switchboard/config.yaml by default.
type Config struct {
	// Servers is the named tool-server registry, in file order.
	Servers []ServerEntry `yaml:"servers,omitempty"`

	// Defaults tunes engine timing and the session pool.
	Defaults Defaults `yaml:"defaults,omitempty"`

	// LLM selects and configures the model provider.
	LLM LLMConfig `yaml:"llm,omitempty"`
}

// ServerEntry is one tool server in the registry.
type ServerEntry struct {
	// Name is the unique identifier for this server.
	Name string `yaml:"name"`

	// Command is the executable to run (e.g., "npx", "python").
	Command string `yaml:"command"`

	// Args are command-line arguments.
	Args []string `yaml:"args,omitempty"`

	// Env are environment variables in KEY=VALUE format.
	// Supports ${VAR} syntax for runtime variable substitution.
	Env []string `yaml:"env,omitempty"`

	// Launch classifies the command for timeout and retry policy:
	// "local" or "remote". When omitted, DetectLaunchClass fills it in
	// from the command at load time.
	Launch string `yaml:"launch,omitempty"`

	// Timeout is the default timeout for tool calls in seconds.
	// Defaults to defaults.timeout if not specified.
	Timeout int `yaml:"timeout,omitempty"`
}

// Defaults tunes engine-wide timing.
type Defaults struct {
	// Timeout is the default per-tool-call timeout in seconds (default: 30).
	Timeout int `yaml:"timeout,omitempty"`

	// ConnectTimeout is the local-class connect timeout in seconds (default: 10).
	ConnectTimeout int `yaml:"connect_timeout,omitempty"`

	// RemoteConnectTimeout is the remote-class connect timeout in
	// seconds (default: 60).
	RemoteConnectTimeout int `yaml:"remote_connect_timeout,omitempty"`

	// RetryDelay is the pause in seconds before the single remote-class
	// connect retry (default: 2).
	RetryDelay int `yaml:"retry_delay,omitempty"`

	// SessionTTL is the idle session lifetime in seconds (default: 600).
	SessionTTL int `yaml:"session_ttl,omitempty"`

	// SweepInterval is the pool sweep interval in seconds (default: 60).
	SweepInterval int `yaml:"sweep_interval,omitempty"`

	// RequestTimeout is the floor for the whole-prompt execution
	// deadline in seconds (default: 120). Remote-class servers can
	// raise the effective deadline above it.
	RequestTimeout int `yaml:"request_timeout,omitempty"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	// Provider is the provider name ("anthropic", "ollama").
	Provider string `yaml:"provider,omitempty"`

	// Model is the model identifier passed to the provider.
	Model string `yaml:"model,omitempty"`

	// BaseURL overrides the provider endpoint (mainly for ollama).
	BaseURL string `yaml:"base_url,omitempty"`
}

// DefaultDefaults returns the default engine timing values.
func DefaultDefaults() Defaults {
	return Defaults{
		Timeout:              30,
		ConnectTimeout:       10,
		RemoteConnectTimeout: 60,
		RetryDelay:           2,
		SessionTTL:           600,
		SweepInterval:        60,
		RequestTimeout:       120,
	}
}

// ConfigDir returns the switchboard configuration directory, honoring
// XDG_CONFIG_HOME.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "switchboard"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "switchboard"), nil
}

// DefaultPath returns the default configuration file path.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads and validates the configuration file at path.
// A missing file yields an empty config with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{Defaults: DefaultDefaults()}
			return cfg, nil
		}
		return nil, &apperrors.ConfigurationError{
			Key:    path,
			Reason: "failed to read config file",
			Cause:  err,
		}
	}

	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &apperrors.ConfigurationError{
			Reason: "failed to parse config file",
			Cause:  err,
		}
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills zero-valued timing fields and infers missing
// launch classes.
func applyDefaults(cfg *Config) {
	def := DefaultDefaults()
	if cfg.Defaults.Timeout == 0 {
		cfg.Defaults.Timeout = def.Timeout
	}
	if cfg.Defaults.ConnectTimeout == 0 {
		cfg.Defaults.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.Defaults.RemoteConnectTimeout == 0 {
		cfg.Defaults.RemoteConnectTimeout = def.RemoteConnectTimeout
	}
	if cfg.Defaults.RetryDelay == 0 {
		cfg.Defaults.RetryDelay = def.RetryDelay
	}
	if cfg.Defaults.SessionTTL == 0 {
		cfg.Defaults.SessionTTL = def.SessionTTL
	}
	if cfg.Defaults.SweepInterval == 0 {
		cfg.Defaults.SweepInterval = def.SweepInterval
	}
	if cfg.Defaults.RequestTimeout == 0 {
		cfg.Defaults.RequestTimeout = def.RequestTimeout
	}

	for i := range cfg.Servers {
		if cfg.Servers[i].Launch == "" {
			cfg.Servers[i].Launch = string(DetectLaunchClass(cfg.Servers[i].Command))
		}
		if cfg.Servers[i].Timeout == 0 {
			cfg.Servers[i].Timeout = cfg.Defaults.Timeout
		}
	}
}

// DetectLaunchClass classifies a command as local or remote-fetch.
// This is a load-time convenience for entries that omit the launch
// field; the runtime never re-inspects command strings.
func DetectLaunchClass(command string) mcp.LaunchClass {
	if packageRunners[filepath.Base(command)] {
		return mcp.LaunchClassRemote
	}
	return mcp.LaunchClassLocal
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))

	for i, entry := range c.Servers {
		key := fmt.Sprintf("servers[%d]", i)

		if entry.Name == "" {
			return &apperrors.ConfigurationError{
				Key:    key + ".name",
				Reason: "server name is required",
			}
		}
		if !ServerNameRegex.MatchString(entry.Name) {
			return &apperrors.ConfigurationError{
				Key:    key + ".name",
				Reason: fmt.Sprintf("invalid server name %q: must start with a letter and contain only letters, numbers, hyphens, and underscores", entry.Name),
			}
		}
		if seen[entry.Name] {
			return &apperrors.ConfigurationError{
				Key:    key + ".name",
				Reason: fmt.Sprintf("duplicate server name %q", entry.Name),
			}
		}
		seen[entry.Name] = true

		if entry.Command == "" {
			return &apperrors.ConfigurationError{
				Key:    key + ".command",
				Reason: fmt.Sprintf("server %q has no launch command", entry.Name),
			}
		}

		switch mcp.LaunchClass(entry.Launch) {
		case mcp.LaunchClassLocal, mcp.LaunchClassRemote:
		default:
			return &apperrors.ConfigurationError{
				Key:    key + ".launch",
				Reason: fmt.Sprintf("invalid launch class %q: must be %q or %q", entry.Launch, mcp.LaunchClassLocal, mcp.LaunchClassRemote),
			}
		}

		if entry.Timeout < 0 {
			return &apperrors.ConfigurationError{
				Key:    key + ".timeout",
				Reason: "timeout must be >= 0",
			}
		}
	}

	return nil
}

// Descriptors converts the server registry to transport descriptors,
// expanding ${VAR} references in env entries from the process
// environment.
func (c *Config) Descriptors() []mcp.ServerDescriptor {
	out := make([]mcp.ServerDescriptor, 0, len(c.Servers))
	for _, entry := range c.Servers {
		env := make([]string, len(entry.Env))
		for i, e := range entry.Env {
			env[i] = os.ExpandEnv(e)
		}

		out = append(out, mcp.ServerDescriptor{
			Name:    entry.Name,
			Command: entry.Command,
			Args:    entry.Args,
			Env:     env,
			Launch:  mcp.LaunchClass(entry.Launch),
			Timeout: time.Duration(entry.Timeout) * time.Second,
		})
	}
	return out
}

// Descriptor returns the descriptor for a named server.
func (c *Config) Descriptor(name string) (mcp.ServerDescriptor, error) {
	for _, d := range c.Descriptors() {
		if d.Name == name {
			return d, nil
		}
	}
	return mcp.ServerDescriptor{}, &apperrors.NotFoundError{Resource: "server", ID: name}
}

// SessionTTL returns the idle session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Defaults.SessionTTL) * time.Second
}

// SweepInterval returns the pool sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Defaults.SweepInterval) * time.Second
}

// RetryDelay returns the remote connect retry delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Defaults.RetryDelay) * time.Second
}

// RequestTimeout returns the execution deadline floor as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Defaults.RequestTimeout) * time.Second
}
