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

// Package session maintains the pool of live tool-server connections.
// Each Session binds one caller session id to one exclusively owned
// Transport; the Pool guarantees at most one live connection per
// derived key and evicts idle sessions on a TTL sweep.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/tombee/switchboard/internal/mcp"
)

// Session lifecycle states.
const (
	StateUninitialized = "uninitialized"
	StateConnecting    = "connecting"
	StateConnected     = "connected"
	StateInUse         = "in_use"
	StateExpired       = "expired"
	StateClosed        = "closed"
)

// Session lifecycle events.
const (
	eventConnect   = "connect"
	eventConnected = "connected"
	eventFail      = "fail"
	eventAcquire   = "acquire"
	eventRelease   = "release"
	eventExpire    = "expire"
	eventClose     = "close"
)

// newLifecycle builds the session state machine:
// uninitialized → connecting → connected ⇄ in_use → expired|closed.
func newLifecycle() *fsm.FSM {
	return fsm.NewFSM(
		StateUninitialized,
		fsm.Events{
			{Name: eventConnect, Src: []string{StateUninitialized}, Dst: StateConnecting},
			{Name: eventConnected, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventFail, Src: []string{StateConnecting}, Dst: StateClosed},
			{Name: eventAcquire, Src: []string{StateConnected}, Dst: StateInUse},
			{Name: eventRelease, Src: []string{StateInUse}, Dst: StateConnected},
			{Name: eventExpire, Src: []string{StateConnected}, Dst: StateExpired},
			{Name: eventClose, Src: []string{StateUninitialized, StateConnecting, StateConnected, StateInUse, StateExpired}, Dst: StateClosed},
		},
		fsm.Callbacks{},
	)
}

// Session is the runtime binding of a derived key to one Transport.
// The Transport is exclusively owned: no two sessions ever share one.
type Session struct {
	key       string
	sessionID string
	desc      mcp.ServerDescriptor
	transport mcp.Transport
	logger    *slog.Logger

	// connectOnce serializes connection establishment per key:
	// concurrent first requests coordinate here instead of spawning
	// duplicate subprocesses.
	connectOnce sync.Once
	connectErr  error

	mu           sync.Mutex
	machine      *fsm.FSM
	lastActivity time.Time
}

func newSession(key, sessionID string, desc mcp.ServerDescriptor, transport mcp.Transport, logger *slog.Logger) *Session {
	return &Session{
		key:       key,
		sessionID: sessionID,
		desc:      desc,
		transport: transport,
		logger:    logger.With("session_key", key, "server", desc.Name),
		machine:   newLifecycle(),
	}
}

// Key returns the derived pool key.
func (s *Session) Key() string {
	return s.key
}

// SessionID returns the caller-supplied session id.
func (s *Session) SessionID() string {
	return s.sessionID
}

// Descriptor returns the server descriptor this session is bound to.
func (s *Session) Descriptor() mcp.ServerDescriptor {
	return s.desc
}

// Transport returns the owned transport.
func (s *Session) Transport() mcp.Transport {
	return s.transport
}

// State returns the current lifecycle state.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// Touch stamps the last-activity time.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// LastActivity returns the last-activity time.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IdleSince reports how long the session has been idle at now.
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

// connect establishes the transport exactly once. Concurrent callers
// block until the first caller's attempt resolves and then share its
// outcome.
func (s *Session) connect(ctx context.Context) error {
	s.connectOnce.Do(func() {
		s.transition(ctx, eventConnect)

		if err := s.transport.Connect(ctx); err != nil {
			s.connectErr = err
			s.transition(ctx, eventFail)
			return
		}

		s.transition(ctx, eventConnected)
		s.Touch(time.Now())
		s.logger.Debug("session connected")
	})
	return s.connectErr
}

// Acquire marks the session as in use for one call. Release must be
// called when the call completes.
func (s *Session) Acquire(ctx context.Context) {
	s.transition(ctx, eventAcquire)
	s.Touch(time.Now())
}

// Release returns an in-use session to the connected state.
func (s *Session) Release(ctx context.Context) {
	s.transition(ctx, eventRelease)
	s.Touch(time.Now())
}

// expire moves an idle session to the terminal expired state.
func (s *Session) expire(ctx context.Context) {
	s.transition(ctx, eventExpire)
}

// close tears down the transport. The session is unusable afterwards.
// Transport errors are returned for logging but the state always
// reaches closed.
func (s *Session) close(ctx context.Context) error {
	s.transition(ctx, eventClose)
	return s.transport.Close()
}

// transition fires a lifecycle event, ignoring invalid-transition
// errors: callers only ever fire events legal for the states they
// observed, and a racing close is not worth surfacing.
func (s *Session) transition(ctx context.Context, event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.machine.Event(ctx, event); err != nil {
		s.logger.Debug("lifecycle event ignored", "event", event, "state", s.machine.Current(), "error", err)
	}
}
