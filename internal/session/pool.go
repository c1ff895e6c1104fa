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

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/switchboard/internal/mcp"
	"github.com/tombee/switchboard/internal/metrics"
)

const (
	// defaultTTL is the idle session lifetime.
	defaultTTL = 10 * time.Minute

	// defaultSweepInterval is how often the eviction sweep runs.
	defaultSweepInterval = time.Minute
)

// Pool maps derived session keys to live Sessions. It is the only
// shared mutable state in the engine: all mutation goes through
// GetOrCreate, remove, and the sweep.
type Pool struct {
	// dialer creates transports for new sessions
	dialer mcp.Dialer

	// ttl is the idle lifetime before eviction
	ttl time.Duration

	// sweepInterval is how often the background sweep runs
	sweepInterval time.Duration

	// logger is used for structured logging
	logger *slog.Logger

	// sessions maps derived keys to sessions
	sessions map[string]*Session

	// mu protects sessions
	mu sync.Mutex

	// cancel stops the background sweeper
	cancel context.CancelFunc

	// wg tracks the sweeper goroutine
	wg sync.WaitGroup
}

// PoolConfig configures the session pool.
type PoolConfig struct {
	// Dialer creates transports for new sessions (required).
	Dialer mcp.Dialer

	// TTL is the idle session lifetime (defaults to 10m).
	TTL time.Duration

	// SweepInterval is the eviction sweep interval (defaults to 1m).
	SweepInterval time.Duration

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// NewPool creates a session pool. Call Run to start the TTL sweeper and
// Shutdown to tear everything down.
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}

	sweepInterval := cfg.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = defaultSweepInterval
	}

	return &Pool{
		dialer:        cfg.Dialer,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		logger:        logger,
		sessions:      make(map[string]*Session),
	}
}

// GetOrCreate returns the live session for the key derived from
// (sessionID, creds, desc), creating and connecting one if needed.
// For an already-connected key it never blocks on connection
// establishment; for a new key, concurrent callers coordinate on a
// single connect so at most one subprocess is ever spawned per key.
func (p *Pool) GetOrCreate(ctx context.Context, sessionID string, creds Credentials, desc mcp.ServerDescriptor) (*Session, error) {
	key := DeriveKey(sessionID, creds, desc)

	p.mu.Lock()
	s, exists := p.sessions[key]
	if !exists {
		s = newSession(key, sessionID, desc, p.dialer(desc), p.logger)
		p.sessions[key] = s
	}
	p.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		// A failed session is removed so the next request starts fresh.
		p.removeIfSame(key, s)
		metrics.SessionConnectFailures.Inc()
		p.syncLiveGauge()
		return nil, err
	}

	if !exists {
		metrics.SessionsCreated.Inc()
		p.syncLiveGauge()
		p.logger.Info("session created",
			"session_key", key,
			"server", desc.Name,
		)
	}

	s.Touch(time.Now())
	return s, nil
}

// removeIfSame removes key only while it still maps to the given
// session, so a concurrent replacement is never evicted by mistake.
func (p *Pool) removeIfSame(key string, s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.sessions[key]; ok && current == s {
		delete(p.sessions, key)
	}
}

// DisconnectAll removes and disconnects every session belonging to the
// caller session id. Disconnect failures are logged, never fatal; the
// sessions are removed from the pool regardless. Returns the number of
// sessions torn down.
func (p *Pool) DisconnectAll(ctx context.Context, sessionID string) int {
	p.mu.Lock()
	var matched []*Session
	for key, s := range p.sessions {
		if KeyBelongsTo(key, sessionID) {
			matched = append(matched, s)
			delete(p.sessions, key)
		}
	}
	p.mu.Unlock()

	for _, s := range matched {
		if err := s.close(ctx); err != nil {
			p.logger.Warn("session disconnect failed",
				"session_key", s.Key(),
				"error", err,
			)
		}
		metrics.SessionsEvicted.WithLabelValues("disconnect").Inc()
	}
	p.syncLiveGauge()

	return len(matched)
}

// Sweep evicts every connected session idle longer than the TTL as of
// now. Each evicted transport is disconnected exactly once; failures
// are logged and never block the sweep.
func (p *Pool) Sweep(ctx context.Context, now time.Time) int {
	p.mu.Lock()
	var expired []*Session
	for key, s := range p.sessions {
		if s.State() != StateConnected {
			continue
		}
		if s.IdleSince(now) > p.ttl {
			expired = append(expired, s)
			delete(p.sessions, key)
		}
	}
	p.mu.Unlock()

	for _, s := range expired {
		s.expire(ctx)
		if err := s.close(ctx); err != nil {
			p.logger.Warn("expired session disconnect failed",
				"session_key", s.Key(),
				"error", err,
			)
		}
		metrics.SessionsEvicted.WithLabelValues("ttl").Inc()
		p.logger.Info("session expired",
			"session_key", s.Key(),
			"idle", s.IdleSince(now).String(),
		)
	}
	p.syncLiveGauge()

	return len(expired)
}

// Run starts the background TTL sweeper. It returns immediately; the
// sweeper stops when ctx is cancelled or Shutdown is called.
func (p *Pool) Run(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case now := <-ticker.C:
				p.Sweep(ctx, now)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the sweeper and disconnects every live session.
// Disconnect errors are collected but never prevent shutdown from
// completing.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	remaining := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		remaining = append(remaining, s)
	}
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	var errs []error
	for _, s := range remaining {
		if err := s.close(ctx); err != nil {
			p.logger.Warn("shutdown disconnect failed",
				"session_key", s.Key(),
				"error", err,
			)
			errs = append(errs, err)
		}
		metrics.SessionsEvicted.WithLabelValues("shutdown").Inc()
	}
	p.syncLiveGauge()

	return errors.Join(errs...)
}

// syncLiveGauge publishes the current pool size.
func (p *Pool) syncLiveGauge() {
	p.mu.Lock()
	n := len(p.sessions)
	p.mu.Unlock()
	metrics.SessionsLive.Set(float64(n))
}

// Len returns the number of pooled sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Stats reports the pooled session count by lifecycle state.
func (p *Pool) Stats() map[string]int {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	stats := make(map[string]int)
	for _, s := range sessions {
		stats[s.State()]++
	}
	return stats
}
