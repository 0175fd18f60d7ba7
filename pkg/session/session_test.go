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

package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traefik/hub-identity-core/internal/cryptoops"
	"github.com/traefik/hub-identity-core/internal/prefstore"
	"github.com/traefik/hub-identity-core/pkg/session"
)

func newSession(t *testing.T) (*session.Session, prefstore.Store) {
	t.Helper()
	ops, err := cryptoops.NewAESCTR([]byte("0123456789abcdef"))
	require.NoError(t, err)
	prefs := prefstore.NewMemory()
	return session.New(prefs, ops), prefs
}

func Test_StartingTransitionRegeneratesSessionIDAndSetsStartTime(t *testing.T) {
	s, _ := newSession(t)
	now := time.Now()

	s.SetStartMethod(session.StartMethodAuthToken)
	s.SetUsername("mock-username")
	s.SetState(session.Starting, now)

	assert.NotEmpty(t, s.SessionID())
}

func Test_SessionIDSurvivesAuthErrorInProgressOscillation(t *testing.T) {
	s, _ := newSession(t)
	now := time.Now()

	s.SetStartMethod(session.StartMethodAuthToken)
	s.SetUsername("mock-username")
	s.SetState(session.Starting, now)
	firstID := s.SessionID()

	s.SetRefreshToken("mock-refresh-token")
	s.SetUserID("12348")
	s.SetState(session.InProgress, now)
	assert.Equal(t, firstID, s.SessionID())

	s.SetState(session.AuthError, now)
	assert.Equal(t, firstID, s.SessionID())
	assert.Empty(t, s.RefreshToken(), "entering AUTH_ERROR clears refresh_token")

	s.SetState(session.Starting, now)
	assert.NotEqual(t, firstID, s.SessionID(), "entering STARTING again regenerates the id")
}

func Test_InactiveTransitionClearsEveryField(t *testing.T) {
	s, _ := newSession(t)
	now := time.Now()

	s.SetStartMethod(session.StartMethodAuthToken)
	s.SetUsername("mock-username")
	s.SetState(session.Starting, now)
	s.SetRefreshToken("mock-refresh-token")
	s.SetUserID("12348")
	s.SetState(session.InProgress, now)

	s.SetState(session.Inactive, now)

	assert.Empty(t, s.Username())
	assert.Empty(t, s.RefreshToken())
	assert.Empty(t, s.UserID())
	assert.Empty(t, s.SessionID())
}

func Test_SessionIDForDiagnosticsGatedOnFullMetrics(t *testing.T) {
	s, _ := newSession(t)
	now := time.Now()
	s.SetStartMethod(session.StartMethodAuthToken)
	s.SetUsername("mock-username")
	s.SetState(session.Starting, now)

	assert.Empty(t, s.SessionIDForDiagnostics(false))
	assert.Equal(t, s.SessionID(), s.SessionIDForDiagnostics(true))
}

func Test_LoadRoundTripsAnInProgressSession(t *testing.T) {
	s, prefs := newSession(t)
	now := time.Now()

	s.SetStartMethod(session.StartMethodAuthToken)
	s.SetUsername("mock-username")
	s.SetState(session.Starting, now)
	s.SetRefreshToken("mock-refresh-token")
	s.SetUserID("12348")
	s.SetState(session.InProgress, now)
	sessionID := s.SessionID()

	ops, err := cryptoops.NewAESCTR([]byte("0123456789abcdef"))
	require.NoError(t, err)
	reloaded := session.New(prefs, ops)
	reloaded.Load()

	assert.Equal(t, session.InProgress, reloaded.State())
	assert.Equal(t, "mock-username", reloaded.Username())
	assert.Equal(t, "mock-refresh-token", reloaded.RefreshToken())
	assert.Equal(t, "12348", reloaded.UserID())
	assert.Equal(t, sessionID, reloaded.SessionID())
}

func Test_LoadNormalizesBrokenInvariantToInactive(t *testing.T) {
	s, prefs := newSession(t)
	now := time.Now()

	s.SetStartMethod(session.StartMethodAuthToken)
	s.SetUsername("mock-username")
	s.SetState(session.Starting, now)
	s.SetUserID("12348")
	s.SetState(session.InProgress, now)

	s.SetRefreshToken("")
	s.Store()

	ops, err := cryptoops.NewAESCTR([]byte("0123456789abcdef"))
	require.NoError(t, err)
	reloaded := session.New(prefs, ops)
	reloaded.Load()

	assert.Equal(t, session.Inactive, reloaded.State())
	assert.Empty(t, reloaded.Username())
}

func Test_WritesDuringStartingAreNoOps(t *testing.T) {
	s, prefs := newSession(t)
	now := time.Now()

	s.SetStartMethod(session.StartMethodAuthToken)
	s.SetUsername("mock-username")
	s.SetState(session.Starting, now)

	assert.Empty(t, prefs.GetString("opera.oauth2.session.session_state"))
}
