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

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const (
	envBackendPriority = 100
	envSecretPrefix    = "SWITCHBOARD_SECRET_"
)

// EnvBackend reads secrets from environment variables. It is read-only
// and always available; it sits first in the chain so the environment
// overrides stored secrets.
//
// A key like "llm/anthropic/api_key" matches either
// SWITCHBOARD_SECRET_LLM_ANTHROPIC_API_KEY or the conventional
// provider alias ANTHROPIC_API_KEY.
type EnvBackend struct{}

// NewEnvBackend creates the environment backend.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{}
}

func (e *EnvBackend) Name() string { return "env" }

func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	if value := os.Getenv(envVarName(key)); value != "" {
		return value, nil
	}
	if alias := providerAlias(key); alias != "" {
		if value := os.Getenv(alias); value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: environment variable not set", ErrNotFound)
}

func (e *EnvBackend) Set(ctx context.Context, key, value string) error {
	return ErrReadOnly
}

func (e *EnvBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnly
}

func (e *EnvBackend) Available() bool { return true }

func (e *EnvBackend) Priority() int { return envBackendPriority }

// envVarName maps "llm/anthropic/api_key" to
// "SWITCHBOARD_SECRET_LLM_ANTHROPIC_API_KEY".
func envVarName(key string) string {
	return envSecretPrefix + strings.ToUpper(strings.ReplaceAll(key, "/", "_"))
}

// providerAlias maps "llm/<provider>/api_key" to the conventional
// "<PROVIDER>_API_KEY" variable, or "" when the key has another shape.
func providerAlias(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) == 3 && parts[0] == "llm" && parts[2] == "api_key" {
		return strings.ToUpper(parts[1]) + "_API_KEY"
	}
	return ""
}
