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

package tracing

import (
	"context"
	"net/http"
	"testing"
)

func TestNewCorrelationID(t *testing.T) {
	id := NewCorrelationID()
	if !id.IsValid() {
		t.Errorf("NewCorrelationID() produced invalid ID: %s", id)
	}

	other := NewCorrelationID()
	if id == other {
		t.Error("consecutive correlation IDs should differ")
	}
}

func TestCorrelationID_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		id    CorrelationID
		valid bool
	}{
		{"valid uuid", "550e8400-e29b-41d4-a716-446655440000", true},
		{"empty", "", false},
		{"not a uuid", "hello", false},
		{"truncated", "550e8400-e29b-41d4", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	id := NewCorrelationID()
	ctx := ToContext(context.Background(), id)

	if got := FromContextOrEmpty(ctx); got != id {
		t.Errorf("FromContextOrEmpty() = %v, want %v", got, id)
	}

	if got := FromContextOrEmpty(context.Background()); got != "" {
		t.Errorf("FromContextOrEmpty() on empty context = %v, want empty", got)
	}

	// FromContext generates a fresh ID when none is present
	if got := FromContext(context.Background()); !got.IsValid() {
		t.Errorf("FromContext() generated invalid ID: %v", got)
	}
}

func TestInjectIntoRequest(t *testing.T) {
	id := NewCorrelationID()
	ctx := ToContext(context.Background(), id)

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	InjectIntoRequest(ctx, req)

	if got := req.Header.Get(HeaderCorrelationID); got != id.String() {
		t.Errorf("header = %q, want %q", got, id)
	}

	// No ID in context leaves the header unset
	bare, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	InjectIntoRequest(context.Background(), bare)
	if got := bare.Header.Get(HeaderCorrelationID); got != "" {
		t.Errorf("header = %q, want empty", got)
	}
}
