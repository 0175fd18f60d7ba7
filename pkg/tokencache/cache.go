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

// Package tokencache implements TokenCache: the in-memory map of access
// tokens keyed by (client_name, scopes), backed by an async load from a
// TokenStore.
package tokencache

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/traefik/hub-identity-core/internal/clock"
	"github.com/traefik/hub-identity-core/pkg/authtoken"
	"github.com/traefik/hub-identity-core/pkg/scopeset"
	"github.com/traefik/hub-identity-core/pkg/tokenstore"
)

// Cache is the in-memory token map. It is not safe for concurrent use by
// design: like every other component in this module it is only ever
// touched from the single UI-runner callstack.
type Cache struct {
	store tokenstore.Store
	clock clock.Clock

	loaded  bool
	tokens  map[string]authtoken.Token
	pending []func()
}

// New returns a Cache backed by store. Call Load once during startup.
func New(store tokenstore.Store, c clock.Clock) *Cache {
	return &Cache{
		store:  store,
		clock:  c,
		tokens: make(map[string]authtoken.Token),
	}
}

// Load kicks off the async load from the underlying TokenStore. onLoaded
// is invoked once loading completes, after every token is installed and
// every deferred callback queued via OnceLoaded has run.
func (c *Cache) Load(onLoaded func()) {
	c.store.Load(c.clock.Now(), func(tokens []authtoken.Token) {
		for _, t := range tokens {
			if !t.IsValid() || t.IsExpired(c.clock.Now()) {
				continue
			}
			c.tokens[t.Key()] = t
		}
		c.loaded = true

		pending := c.pending
		c.pending = nil
		for _, fn := range pending {
			fn()
		}

		if onLoaded != nil {
			onLoaded()
		}
	})
}

// Loaded reports whether the initial async load has completed.
func (c *Cache) Loaded() bool {
	return c.loaded
}

// OnceLoaded runs fn now if the cache is already loaded, or defers it until
// Load's callback completes. This is how AuthService defers
// request_access_token calls that arrive before the cache is ready (§4.6).
func (c *Cache) OnceLoaded(fn func()) {
	if c.loaded {
		fn()
		return
	}
	c.pending = append(c.pending, fn)
}

// Get looks up a token by (client_name, scopes). A hit that turns out to be
// expired is evicted and reported as a miss.
func (c *Cache) Get(clientName string, scopes scopeset.Set) (authtoken.Token, bool) {
	key := authtoken.CacheKey(clientName, scopes)
	t, ok := c.tokens[key]
	if !ok {
		return authtoken.Token{}, false
	}
	if t.IsExpired(c.clock.Now()) {
		delete(c.tokens, key)
		return authtoken.Token{}, false
	}
	return t, true
}

// Put inserts token, rejecting invalid/expired tokens and duplicate keys.
func (c *Cache) Put(token authtoken.Token) error {
	if !token.IsValid() {
		return fmt.Errorf("reject invalid token for %q", token.ClientName)
	}
	if token.IsExpired(c.clock.Now()) {
		return fmt.Errorf("reject expired token for %q", token.ClientName)
	}

	key := token.Key()
	if _, exists := c.tokens[key]; exists {
		return fmt.Errorf("token already cached for key %q", key)
	}

	c.tokens[key] = token
	return nil
}

// Evict removes a token by equality match, a no-op if it is not present.
func (c *Cache) Evict(token authtoken.Token) {
	key := token.Key()
	if existing, ok := c.tokens[key]; ok && existing.Equal(token) {
		delete(c.tokens, key)
	}
}

// Clear drops every cached token and clears the underlying store.
func (c *Cache) Clear() {
	c.tokens = make(map[string]authtoken.Token)
	if err := c.store.Clear(); err != nil {
		log.Error().Err(err).Msg("Unable to clear token store")
	}
}

// Store persists every non-expired, valid cached token, replacing whatever
// was previously on disk (clear, then save, in that order).
func (c *Cache) Store() error {
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clear token store: %w", err)
	}

	tokens := make([]authtoken.Token, 0, len(c.tokens))
	now := c.clock.Now()
	for _, t := range c.tokens {
		if !t.IsValid() || t.IsExpired(now) {
			continue
		}
		tokens = append(tokens, t)
	}

	if err := c.store.Save(tokens); err != nil {
		return fmt.Errorf("save token store: %w", err)
	}
	return nil
}

// Snapshot returns every currently cached token, for DiagnosticService.
func (c *Cache) Snapshot() []authtoken.Token {
	out := make([]authtoken.Token, 0, len(c.tokens))
	for _, t := range c.tokens {
		out = append(out, t)
	}
	return out
}

// Name identifies this cache as a diagnostics.Supplier.
func (c *Cache) Name() string {
	return "token_cache"
}

// DiagnosticFields reports the cache's size and load state, structurally
// satisfying diagnostics.Supplier without this package importing it.
func (c *Cache) DiagnosticFields() map[string]string {
	return map[string]string{
		"loaded": strconv.FormatBool(c.Loaded()),
		"size":   strconv.Itoa(len(c.tokens)),
	}
}
