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

// Package secrets resolves model API keys through a backend chain:
// environment variables, the OS keychain, then an encrypted file.
// Secret keys use slash paths, e.g. "llm/anthropic/api_key".
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFound is returned when no backend holds the key.
	ErrNotFound = errors.New("secret not found")

	// ErrUnavailable is returned when a backend cannot be used in the
	// current environment.
	ErrUnavailable = errors.New("secret backend unavailable")

	// ErrReadOnly is returned by backends that do not support writes.
	ErrReadOnly = errors.New("secret backend is read-only")
)

// Backend is one secret storage mechanism. Backends are queried in
// priority order (higher first) by the Resolver.
type Backend interface {
	// Name returns the backend identifier ("env", "keychain", "file").
	Name() string

	// Get retrieves a secret. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a secret. Returns ErrReadOnly when unsupported.
	Set(ctx context.Context, key, value string) error

	// Delete removes a secret. Returns ErrNotFound when absent and
	// ErrReadOnly when unsupported.
	Delete(ctx context.Context, key string) error

	// Available reports whether the backend is usable right now.
	Available() bool

	// Priority orders backends: env 100, keychain 50, file 25.
	Priority() int
}

// Resolver queries a backend chain in priority order.
type Resolver struct {
	backends []Backend
}

// NewResolver builds a chain from the available backends, sorted by
// priority descending.
func NewResolver(backends ...Backend) *Resolver {
	chain := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Available() {
			chain = append(chain, b)
		}
	}
	sort.Slice(chain, func(i, j int) bool {
		return chain[i].Priority() > chain[j].Priority()
	})
	return &Resolver{backends: chain}
}

// DefaultResolver builds the standard env -> keychain -> file chain.
// The file backend is skipped entirely when no master key is available.
func DefaultResolver() *Resolver {
	backends := []Backend{NewEnvBackend(), NewKeychainBackend()}
	if fb, err := NewFileBackend("", ""); err == nil {
		backends = append(backends, fb)
	}
	return NewResolver(backends...)
}

// Get returns the first hit across the chain, or ErrNotFound when no
// backend holds the key.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	if len(r.backends) == 0 {
		return "", fmt.Errorf("%w: no backends in chain", ErrUnavailable)
	}

	var lastErr error
	for _, b := range r.backends {
		value, err := b.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			lastErr = err
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to resolve secret %q: %w", key, lastErr)
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, key)
}

// Set writes to the named backend, or to the highest-priority writable
// backend when name is empty.
func (r *Resolver) Set(ctx context.Context, key, value, backendName string) error {
	if backendName != "" {
		for _, b := range r.backends {
			if b.Name() == backendName {
				return b.Set(ctx, key, value)
			}
		}
		return fmt.Errorf("%w: backend %q", ErrUnavailable, backendName)
	}

	for _, b := range r.backends {
		err := b.Set(ctx, key, value)
		if errors.Is(err, ErrReadOnly) {
			continue
		}
		return err
	}
	return errors.New("no writable secret backend available")
}

// Delete removes the key from every writable backend that holds it.
func (r *Resolver) Delete(ctx context.Context, key string) error {
	deleted := false
	for _, b := range r.backends {
		err := b.Delete(ctx, key)
		if errors.Is(err, ErrReadOnly) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to delete secret from %s: %w", b.Name(), err)
		}
		deleted = true
	}
	if !deleted {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return nil
}

// Backends returns the chain in resolution order.
func (r *Resolver) Backends() []Backend {
	return r.backends
}

// ProviderKey returns the canonical secret key for a model provider's
// API key.
func ProviderKey(provider string) string {
	return "llm/" + provider + "/api_key"
}
