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

package authtoken_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/traefik/hub-identity-core/pkg/authtoken"
	"github.com/traefik/hub-identity-core/pkg/scopeset"
)

func Test_IsValid(t *testing.T) {
	future := time.Now().Add(time.Hour)

	tests := []struct {
		desc  string
		token authtoken.Token
		want  bool
	}{
		{
			desc:  "all fields set",
			token: authtoken.New("mock-client", "mock-secret", scopeset.New("ALL"), future),
			want:  true,
		},
		{
			desc:  "missing client name",
			token: authtoken.New("", "mock-secret", scopeset.New("ALL"), future),
			want:  false,
		},
		{
			desc:  "missing secret",
			token: authtoken.New("mock-client", "", scopeset.New("ALL"), future),
			want:  false,
		},
		{
			desc:  "empty scopes",
			token: authtoken.New("mock-client", "mock-secret", scopeset.New(), future),
			want:  false,
		},
		{
			desc:  "zero expiry",
			token: authtoken.New("mock-client", "mock-secret", scopeset.New("ALL"), time.Time{}),
			want:  false,
		},
	}

	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			assert.Equal(t, test.want, test.token.IsValid())
		})
	}
}

func Test_IsExpired(t *testing.T) {
	now := time.Now()
	token := authtoken.New("mock-client", "mock-secret", scopeset.New("ALL"), now.Add(-time.Second))

	assert.True(t, token.IsExpired(now))
	assert.False(t, token.IsExpired(now.Add(-time.Hour)))
}

func Test_EqualComparesAllFields(t *testing.T) {
	now := time.Now()
	a := authtoken.New("mock-client", "mock-secret", scopeset.New("ALL"), now)
	b := authtoken.New("mock-client", "mock-secret", scopeset.New("ALL"), now)
	c := authtoken.New("mock-client", "other-secret", scopeset.New("ALL"), now)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func Test_CacheKeyStableAcrossScopeInsertionOrder(t *testing.T) {
	key1 := authtoken.CacheKey("mock-client", scopeset.New("a", "b"))
	key2 := authtoken.CacheKey("mock-client", scopeset.New("b", "a"))

	assert.Equal(t, key1, key2)
}
