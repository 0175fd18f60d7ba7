/*
Copyright (C) 2024 Hub Identity Core Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program. If not, see <https://www.gnu.org/licenses/>.
*/

// Package tokenstore implements the TokenStore trait: the encrypted
// on-disk token table. The real storage engine is a browser-process
// collaborator out of scope per the specification; this package carries
// the interface plus a reference implementation (an encrypted in-memory
// table) that TokenCache can drive in tests and that an embedder can
// swap for a real disk-backed table without changing TokenCache.
//
// Rows carry no primary key: repeated (client_name, scopes) rows are
// tolerated on disk, idempotence comes entirely from Store() doing
// Clear() then Save(all) in that order. This mirrors the original
// implementation's documented (and preserved) behavior.
package tokenstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/traefik/hub-identity-core/internal/cryptoops"
	"github.com/traefik/hub-identity-core/pkg/authtoken"
	"github.com/traefik/hub-identity-core/pkg/scopeset"
)

// Store is the TokenStore trait: load/save/clear of the persisted token
// table. Load is asynchronous, mirroring the "DB runner" round-trip
// described in the concurrency model; Save and Clear are synchronous from
// the caller's point of view (the table is a simple slice here, a real
// disk-backed table would still complete the round trip before returning
// control, per the ordering TokenCache.store() requires).
type Store interface {
	// Load asynchronously reads every row, decrypts it, and invokes cb with
	// the resulting tokens once. Tokens failing AuthToken validity/expiry
	// checks (relative to now) are silently dropped before cb is invoked.
	Load(now time.Time, cb func([]authtoken.Token))
	// Save appends every given token as an independently encrypted row.
	Save(tokens []authtoken.Token) error
	// Clear drops every row.
	Clear() error
}

// Memory is a Store backed by an in-memory slice of encrypted rows, used
// as the reference implementation and by tests.
type Memory struct {
	ops cryptoops.Ops

	mu   sync.Mutex
	rows []encryptedRow
}

type encryptedRow struct {
	clientName    string // encrypted
	encodedScopes string // encrypted
	secret        string // encrypted
	expiresAt     string // encrypted i64
}

// NewMemory returns an empty Memory store encrypting rows with ops.
func NewMemory(ops cryptoops.Ops) *Memory {
	return &Memory{ops: ops}
}

// Load implements Store. The callback is invoked synchronously here (no
// real disk I/O to wait on); AuthService's init sequence tolerates either
// synchronous or asynchronous delivery since it only acts from within the
// callback.
func (m *Memory) Load(now time.Time, cb func([]authtoken.Token)) {
	m.mu.Lock()
	rows := append([]encryptedRow(nil), m.rows...)
	m.mu.Unlock()

	tokens := make([]authtoken.Token, 0, len(rows))
	for _, row := range rows {
		token, ok := m.decryptRow(row)
		if !ok {
			continue
		}
		if token.IsExpired(now) {
			continue
		}
		tokens = append(tokens, token)
	}
	cb(tokens)
}

// Save implements Store.
func (m *Memory) Save(tokens []authtoken.Token) error {
	rows := make([]encryptedRow, 0, len(tokens))
	for _, token := range tokens {
		row, err := m.encryptRow(token)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	m.mu.Lock()
	m.rows = append(m.rows, rows...)
	m.mu.Unlock()
	return nil
}

// Clear implements Store.
func (m *Memory) Clear() error {
	m.mu.Lock()
	m.rows = nil
	m.mu.Unlock()
	return nil
}

func (m *Memory) encryptRow(token authtoken.Token) (encryptedRow, error) {
	clientName, err := m.ops.OSEncrypt(token.ClientName)
	if err != nil {
		return encryptedRow{}, fmt.Errorf("encrypt client_name: %w", err)
	}
	encodedScopes, err := m.ops.OSEncrypt(token.Scopes.Encode())
	if err != nil {
		return encryptedRow{}, fmt.Errorf("encrypt scopes: %w", err)
	}
	secret, err := m.ops.OSEncrypt(token.Secret)
	if err != nil {
		return encryptedRow{}, fmt.Errorf("encrypt secret: %w", err)
	}
	expiresAt, err := m.ops.OSEncryptI64(token.ExpiresAt.Unix())
	if err != nil {
		return encryptedRow{}, fmt.Errorf("encrypt expires_at: %w", err)
	}

	return encryptedRow{
		clientName:    clientName,
		encodedScopes: encodedScopes,
		secret:        secret,
		expiresAt:     expiresAt,
	}, nil
}

func (m *Memory) decryptRow(row encryptedRow) (authtoken.Token, bool) {
	clientName, err := m.ops.OSDecrypt(row.clientName)
	if err != nil {
		return authtoken.Token{}, false
	}
	encodedScopes, err := m.ops.OSDecrypt(row.encodedScopes)
	if err != nil {
		return authtoken.Token{}, false
	}
	secret, err := m.ops.OSDecrypt(row.secret)
	if err != nil {
		return authtoken.Token{}, false
	}
	expiresAtUnix, err := m.ops.OSDecryptI64(row.expiresAt)
	if err != nil {
		return authtoken.Token{}, false
	}

	token := authtoken.New(clientName, secret, scopeset.FromEncoded(encodedScopes), time.Unix(expiresAtUnix, 0))
	if !token.IsValid() {
		return authtoken.Token{}, false
	}
	return token, true
}
