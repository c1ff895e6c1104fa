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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/tombee/switchboard/internal/config"
)

const (
	fileBackendPriority = 25

	argon2Time        = 3
	argon2Memory      = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLength   = 32

	gcmNonceSize = 12
)

// FileBackend stores secrets in a JSON file encrypted with AES-256-GCM.
// The cipher key is derived per write with Argon2id from a master key
// resolved from SWITCHBOARD_MASTER_KEY or the master.key file in the
// config directory.
type FileBackend struct {
	path      string
	masterKey []byte
	available bool

	mu sync.Mutex
}

// fileEnvelope is the on-disk layout: a fresh salt and nonce per write.
type fileEnvelope struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// NewFileBackend creates the encrypted file backend. An empty path
// defaults to secrets.enc in the switchboard config directory. A
// missing master key yields an unavailable backend, not an error.
func NewFileBackend(path, masterKey string) (*FileBackend, error) {
	if path == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config directory: %w", err)
		}
		path = filepath.Join(dir, "secrets.enc")
	}

	key, err := resolveMasterKey(masterKey)
	if err != nil {
		return &FileBackend{path: path, available: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}

	return &FileBackend{path: path, masterKey: key, available: true}, nil
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Get(ctx context.Context, key string) (string, error) {
	if !f.available {
		return "", fmt.Errorf("%w: master key not available", ErrUnavailable)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	store, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", err
	}

	value, ok := store[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

func (f *FileBackend) Set(ctx context.Context, key, value string) error {
	if !f.available {
		return fmt.Errorf("%w: master key not available", ErrUnavailable)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	store, err := f.load()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if store == nil {
		store = make(map[string]string)
	}

	store[key] = value
	return f.save(store)
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	if !f.available {
		return fmt.Errorf("%w: master key not available", ErrUnavailable)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	store, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return err
	}

	if _, ok := store[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	delete(store, key)
	return f.save(store)
}

func (f *FileBackend) Available() bool { return f.available }

func (f *FileBackend) Priority() int { return fileBackendPriority }

func (f *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid secrets file format: %w", err)
	}

	key := argon2.IDKey(f.masterKey, env.Salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, env.Nonce, env.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong master key or corrupted file): %w", err)
	}
	defer zeroBytes(plaintext)

	var store map[string]string
	if err := json.Unmarshal(plaintext, &store); err != nil {
		return nil, fmt.Errorf("invalid decrypted payload: %w", err)
	}
	return store, nil
}

func (f *FileBackend) save(store map[string]string) error {
	plaintext, err := json.Marshal(store)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	defer zeroBytes(plaintext)

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(f.masterKey, salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	raw, err := json.Marshal(fileEnvelope{
		Salt:  salt,
		Nonce: nonce,
		Data:  gcm.Seal(nil, nonce, plaintext, nil),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal secrets file: %w", err)
	}

	// Atomic replace so a crash mid-write never corrupts the store.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace secrets file: %w", err)
	}
	return nil
}

// resolveMasterKey resolves the file-backend master key: the provided
// value, then SWITCHBOARD_MASTER_KEY, then the master.key file next to
// the config. The key file must not be group or world readable.
func resolveMasterKey(provided string) ([]byte, error) {
	if provided != "" {
		return []byte(provided), nil
	}
	if env := os.Getenv("SWITCHBOARD_MASTER_KEY"); env != "" {
		return []byte(env), nil
	}

	dir, err := config.ConfigDir()
	if err == nil {
		keyPath := filepath.Join(dir, "master.key")
		if info, err := os.Stat(keyPath); err == nil && info.Mode().Perm()&0o077 == 0 {
			if key, err := os.ReadFile(keyPath); err == nil {
				return key, nil
			}
		}
	}

	return nil, errors.New("master key not available (set SWITCHBOARD_MASTER_KEY or create master.key)")
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
