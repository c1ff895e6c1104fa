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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/switchboard/internal/bridge"
	"github.com/tombee/switchboard/internal/config"
	"github.com/tombee/switchboard/internal/discovery"
	"github.com/tombee/switchboard/internal/engine"
	applog "github.com/tombee/switchboard/internal/log"
	"github.com/tombee/switchboard/internal/mcp"
	"github.com/tombee/switchboard/internal/secrets"
	"github.com/tombee/switchboard/internal/session"
	"github.com/tombee/switchboard/internal/tracing"
	"github.com/tombee/switchboard/pkg/llm"
)

var (
	flagConfig    string
	flagSessionID string
	flagJSON      bool
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switchboard",
		Short: "Bridge prompts to tool servers through a language model",
		Long: `Switchboard orchestrates prompt execution across configured tool
servers: it discovers their capabilities, selects the right server for
a prompt, and drives the model's tool-calling conversation against it.

Servers are configured in ` + "`config.yaml`" + ` in the switchboard config
directory; provider API keys come from the environment, the OS
keychain, or the encrypted secrets file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: config dir)")
	cmd.PersistentFlags().StringVar(&flagSessionID, "session", "default", "Session id for connection pooling")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output")

	return cmd
}

// app bundles the assembled runtime for one CLI invocation.
type app struct {
	mu      sync.Mutex
	cfg     *config.Config
	logger  *slog.Logger
	engine  *engine.Engine
	pool    *session.Pool
	tracing *tracing.Provider
	watcher *config.Watcher
}

// config returns the current config snapshot. The watcher replaces the
// snapshot when the file changes on disk.
func (a *app) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// newApp loads configuration and assembles the engine. withProvider
// controls whether a model provider is activated; capability commands
// do not need one.
func newApp(withProvider bool) (*app, error) {
	logger := applog.New(applog.FromEnv())
	slog.SetDefault(logger)

	path := flagConfig
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	tp, err := setupTracing()
	if err != nil {
		return nil, err
	}

	dialer := mcp.Dial(mcp.ClientOptions{
		RetryDelay: cfg.RetryDelay(),
		Logger:     logger,
	})

	pool := session.NewPool(session.PoolConfig{
		Dialer:        dialer,
		TTL:           cfg.SessionTTL(),
		SweepInterval: cfg.SweepInterval(),
		Logger:        logger,
	})
	// The sweeper only matters while this process holds connections;
	// Shutdown stops it on exit.
	pool.Run(context.Background())

	var b *bridge.Bridge
	if withProvider {
		provider, err := activateProvider(cfg)
		if err != nil {
			return nil, err
		}
		b = bridge.New(provider, cfg.LLM.Model, logger)
	}

	eng := engine.New(engine.Options{
		Pool:           pool,
		Discoverer:     discovery.New(dialer, logger),
		Bridge:         b,
		Dialer:         dialer,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout(),
	})

	a := &app{cfg: cfg, logger: logger, engine: eng, pool: pool, tracing: tp}

	// Pick up server registry edits while a long prompt is running. A
	// watcher failure is not fatal; the loaded snapshot keeps serving.
	watcher, err := config.NewWatcher(config.WatcherConfig{
		Path:   path,
		Logger: logger,
		OnChange: func(updated *config.Config) {
			a.mu.Lock()
			a.cfg = updated
			a.mu.Unlock()
		},
	})
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		a.watcher = watcher
	}

	return a, nil
}

// close tears down pooled connections and flushes traces before the
// process exits.
func (a *app) close() {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.Debug("config watcher close", "error", err)
		}
	}
	if err := a.pool.Shutdown(context.Background()); err != nil {
		a.logger.Debug("pool shutdown", "error", err)
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Debug("tracing shutdown", "error", err)
		}
	}
}

// setupTracing installs an OpenTelemetry provider when an exporter is
// requested via SWITCHBOARD_TRACE_EXPORTER (stdout, otlp-http,
// otlp-grpc). Without one, spans stay in-process.
func setupTracing() (*tracing.Provider, error) {
	exporter := os.Getenv("SWITCHBOARD_TRACE_EXPORTER")
	if exporter == "" {
		return nil, nil
	}

	ratio := 0.0
	if raw := os.Getenv("SWITCHBOARD_TRACE_SAMPLE_RATIO"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SWITCHBOARD_TRACE_SAMPLE_RATIO %q: %w", raw, err)
		}
		ratio = parsed
	}

	return tracing.NewProvider(context.Background(), tracing.Config{
		ServiceName:    "switchboard",
		ServiceVersion: version,
		Exporter:       tracing.Exporter(exporter),
		Endpoint:       os.Getenv("SWITCHBOARD_TRACE_ENDPOINT"),
		SampleRatio:    ratio,
	})
}

// activateProvider resolves the configured provider's credential and
// activates it in the global registry, wrapped with retry for
// transient API failures.
func activateProvider(cfg *config.Config) (llm.Provider, error) {
	name := cfg.LLM.Provider
	if name == "" {
		name = "anthropic"
	}

	credential := ""
	switch name {
	case "ollama":
		credential = cfg.LLM.BaseURL
	default:
		resolver := secrets.DefaultResolver()
		key, err := resolver.Get(context.Background(), secrets.ProviderKey(name))
		if err != nil {
			if errors.Is(err, secrets.ErrNotFound) {
				return nil, fmt.Errorf(
					"no API key for provider %q\n\nSet it with:\n  switchboard secret set %s\nor export %s_API_KEY",
					name, secrets.ProviderKey(name), strings.ToUpper(name))
			}
			return nil, err
		}
		credential = key
		slog.Debug("provider credential resolved",
			"provider", name,
			"api_key", applog.SanitizeAPIKey(key),
		)
	}

	if err := llm.Activate(name, credential); err != nil {
		return nil, err
	}

	provider, err := llm.Get(name)
	if err != nil {
		return nil, err
	}
	return llm.NewRetryableProvider(provider, llm.DefaultRetryConfig()), nil
}
