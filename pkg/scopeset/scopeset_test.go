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

package scopeset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/traefik/hub-identity-core/pkg/scopeset"
)

func Test_EncodeIsCanonicalRegardlessOfInsertionOrder(t *testing.T) {
	a := scopeset.New("sync", "cloud", "mail")
	b := scopeset.New("mail", "sync", "cloud")

	assert.Equal(t, a.Encode(), b.Encode())
	assert.True(t, a.Equal(b))
}

func Test_EmptySetEncodesToEmptyString(t *testing.T) {
	assert.Equal(t, "", scopeset.New().Encode())
}

func Test_EncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		desc   string
		scopes []string
	}{
		{desc: "empty", scopes: nil},
		{desc: "single", scopes: []string{"ALL"}},
		{desc: "multiple", scopes: []string{"mock-scope-4", "sync", "cloud"}},
	}

	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			s := scopeset.New(test.scopes...)
			roundTripped := scopeset.FromEncoded(s.Encode())
			assert.True(t, s.Equal(roundTripped))
		})
	}
}

func Test_EmptyScopesAreDropped(t *testing.T) {
	s := scopeset.New("", "sync", "")
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Has("sync"))
}
