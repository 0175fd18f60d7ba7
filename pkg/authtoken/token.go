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

// Package authtoken implements AuthToken: the immutable bearer credential
// handed out by TokenCache and consumed by clients of AuthService.
package authtoken

import (
	"time"

	"github.com/traefik/hub-identity-core/pkg/scopeset"
)

// Token is an immutable bearer credential scoped to a client + capability set.
type Token struct {
	ClientName string
	Secret     string
	Scopes     scopeset.Set
	ExpiresAt  time.Time
}

// New builds a Token.
func New(clientName, secret string, scopes scopeset.Set, expiresAt time.Time) Token {
	return Token{
		ClientName: clientName,
		Secret:     secret,
		Scopes:     scopes,
		ExpiresAt:  expiresAt,
	}
}

// IsValid reports whether every field of the token is set.
func (t Token) IsValid() bool {
	return t.ClientName != "" && t.Secret != "" && !t.Scopes.Empty() && !t.ExpiresAt.IsZero()
}

// IsExpired reports whether the token's expiry is before now.
func (t Token) IsExpired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// Key returns the cache fingerprint (client_name, scopes.encoded) for this token.
func (t Token) Key() string {
	return CacheKey(t.ClientName, t.Scopes)
}

// CacheKey builds the stable cache fingerprint for a (client, scopes) pair.
func CacheKey(clientName string, scopes scopeset.Set) string {
	return clientName + "\x00" + scopes.Encode()
}

// Equal reports whether t and other have identical fields.
func (t Token) Equal(other Token) bool {
	return t.ClientName == other.ClientName &&
		t.Secret == other.Secret &&
		t.Scopes.Equal(other.Scopes) &&
		t.ExpiresAt.Equal(other.ExpiresAt)
}
