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
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/tombee/switchboard/internal/mcp"
)

// Credentials is the opaque caller credential material folded into the
// session key. It never appears in the key in clear, only as a digest.
type Credentials string

// DeriveKey produces the deterministic pool key for a (session id,
// credentials, descriptor) tuple. The caller's session id is kept as a
// readable prefix so DisconnectAll can match by prefix; everything else
// is fingerprinted.
func DeriveKey(sessionID string, creds Credentials, desc mcp.ServerDescriptor) string {
	h := sha256.New()
	h.Write([]byte(creds))
	h.Write([]byte{0x1f})
	h.Write([]byte(desc.Identity()))
	digest := hex.EncodeToString(h.Sum(nil))

	return sessionID + ":" + digest[:16]
}

// KeyBelongsTo reports whether a pool key was derived from the given
// caller session id.
func KeyBelongsTo(key, sessionID string) bool {
	return strings.HasPrefix(key, sessionID+":")
}
