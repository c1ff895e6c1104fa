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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the configuration file and reloads it on change.
// Reload events are debounced so editors that write multiple times per
// save trigger a single reload.
type Watcher struct {
	// fsWatcher is the underlying filesystem watcher
	fsWatcher *fsnotify.Watcher

	// path is the watched configuration file
	path string

	// onChange receives the freshly loaded config after each reload
	onChange func(*Config)

	// logger is used for structured logging
	logger *slog.Logger

	// debounceDelay is the delay before reloading after file changes
	debounceDelay time.Duration

	// pending tracks the pending debounced reload
	pending *time.Timer

	// mu protects pending
	mu sync.Mutex

	// ctx is the watcher's lifecycle context
	ctx context.Context

	// cancel stops the watcher
	cancel context.CancelFunc

	// wg tracks the event loop goroutine
	wg sync.WaitGroup
}

// WatcherConfig configures the config file watcher.
type WatcherConfig struct {
	// Path is the configuration file to watch.
	Path string

	// OnChange receives the freshly loaded config after each reload.
	OnChange func(*Config)

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// DebounceDelay is the delay before reloading after file changes
	// (defaults to 200ms).
	DebounceDelay time.Duration
}

// NewWatcher creates a watcher for the given configuration file.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}

	// Watch the directory rather than the file: editors replace files
	// on save, which would orphan a file-level watch.
	dir := filepath.Dir(cfg.Path)
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher:     fsWatcher,
		path:          cfg.Path,
		onChange:      cfg.OnChange,
		logger:        logger,
		debounceDelay: debounceDelay,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// processEvents handles filesystem events until the watcher is closed.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// scheduleReload debounces a reload of the config file.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}

	w.pending = time.AfterFunc(w.debounceDelay, func() {
		cfg, err := Load(w.path)
		if err != nil {
			// Keep running with the previous config; a broken edit
			// should not take the engine down.
			w.logger.Error("config reload failed", "path", w.path, "error", err)
			return
		}

		w.logger.Info("config reloaded", "path", w.path, "servers", len(cfg.Servers))
		w.onChange(cfg)
	})
}

// Close stops the watcher and releases the filesystem watch.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}
