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
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keychainBackendPriority = 50

	// keychainService is the service name under which entries are filed.
	keychainService = "switchboard"
)

// KeychainBackend stores secrets in the OS keychain: Keychain Access on
// macOS, the Secret Service API on Linux, Credential Manager on
// Windows.
type KeychainBackend struct {
	available bool
}

// NewKeychainBackend creates the keychain backend, probing the keyring
// service so a locked or absent keychain is detected up front.
func NewKeychainBackend() *KeychainBackend {
	b := &KeychainBackend{available: true}
	_, err := keyring.Get(keychainService, "__switchboard_probe__")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		b.available = false
	}
	return b
}

func (k *KeychainBackend) Name() string { return "keychain" }

func (k *KeychainBackend) Get(ctx context.Context, key string) (string, error) {
	if !k.available {
		return "", fmt.Errorf("%w: keychain service", ErrUnavailable)
	}

	value, err := keyring.Get(keychainService, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if isKeychainLocked(err) {
			return "", fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
		}
		return "", fmt.Errorf("keychain error: %w", err)
	}
	return value, nil
}

func (k *KeychainBackend) Set(ctx context.Context, key, value string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain service", ErrUnavailable)
	}

	if err := keyring.Set(keychainService, key, value); err != nil {
		if isKeychainLocked(err) {
			return fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
		}
		return fmt.Errorf("keychain error: %w", err)
	}
	return nil
}

func (k *KeychainBackend) Delete(ctx context.Context, key string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain service", ErrUnavailable)
	}

	if err := keyring.Delete(keychainService, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if isKeychainLocked(err) {
			return fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
		}
		return fmt.Errorf("keychain error: %w", err)
	}
	return nil
}

func (k *KeychainBackend) Available() bool { return k.available }

func (k *KeychainBackend) Priority() int { return keychainBackendPriority }

// isKeychainLocked matches error text indicating a locked or
// inaccessible keychain across platforms.
func isKeychainLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"locked",
		"cannot access",
		"permission denied",
		"user interaction required",
		"secret service",
		"dbus",
		"user canceled",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
