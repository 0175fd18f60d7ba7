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

// Package scopeset implements ScopeSet: an unordered set of non-empty scope
// strings with a canonical space-delimited encoding.
package scopeset

import (
	"sort"
	"strings"
)

// Set is an unordered set of scope strings.
type Set struct {
	scopes map[string]struct{}
}

// New returns a Set containing the given scopes. Empty strings are dropped.
func New(scopes ...string) Set {
	s := Set{scopes: make(map[string]struct{}, len(scopes))}
	for _, sc := range scopes {
		if sc == "" {
			continue
		}
		s.scopes[sc] = struct{}{}
	}
	return s
}

// FromEncoded parses a space-delimited encoded scope string back into a Set.
func FromEncoded(encoded string) Set {
	if encoded == "" {
		return New()
	}
	return New(strings.Fields(encoded)...)
}

// Len returns the number of distinct scopes.
func (s Set) Len() int {
	return len(s.scopes)
}

// Empty reports whether the set has no scopes.
func (s Set) Empty() bool {
	return s.Len() == 0
}

// Has reports whether scope is a member of the set.
func (s Set) Has(scope string) bool {
	_, ok := s.scopes[scope]
	return ok
}

// Slice returns the scopes in canonical (sorted) order.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s.scopes))
	for sc := range s.scopes {
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}

// Encode returns the canonical space-delimited encoding. Equal sets always
// produce equal strings regardless of insertion order.
func (s Set) Encode() string {
	return strings.Join(s.Slice(), " ")
}

// Equal reports whether s and other contain exactly the same scopes.
func (s Set) Equal(other Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	for sc := range s.scopes {
		if !other.Has(sc) {
			return false
		}
	}
	return true
}
