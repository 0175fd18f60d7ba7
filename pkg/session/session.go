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

// Package session implements PersistentSession: the session state machine
// and its encrypted at-rest profile.
package session

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/traefik/hub-identity-core/internal/cryptoops"
	"github.com/traefik/hub-identity-core/internal/prefstore"
)

// State is the session state machine's tagged variant.
type State int

const (
	Unset State = iota
	Inactive
	Starting
	InProgress
	Finishing
	AuthError
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Unset:
		return "UNSET"
	case Inactive:
		return "INACTIVE"
	case Starting:
		return "STARTING"
	case InProgress:
		return "IN_PROGRESS"
	case Finishing:
		return "FINISHING"
	case AuthError:
		return "AUTH_ERROR"
	default:
		return "UNKNOWN"
	}
}

// StartMethod records how the session was started, persisted alongside it.
type StartMethod int

const (
	StartMethodUnset StartMethod = iota
	StartMethodAuthToken
	StartMethodOAuth1
)

// String implements fmt.Stringer.
func (m StartMethod) String() string {
	switch m {
	case StartMethodAuthToken:
		return "AUTH_TOKEN"
	case StartMethodOAuth1:
		return "OAUTH1"
	default:
		return "UNSET"
	}
}

const prefKey = "opera.oauth2.session"

const (
	fieldRefreshToken = "refresh_token"
	fieldUserID       = "user_id"
	fieldUserName     = "user_name"
	fieldSessionID    = "session_id"
	fieldSessionState = "session_state"
	fieldStartMethod  = "start_method"
	fieldStartTime    = "start_time"
)

// Session is PersistentSession.
type Session struct {
	prefs prefstore.Store
	ops   cryptoops.Ops

	state        State
	username     string
	refreshToken string
	userID       string
	sessionID    string
	startMethod  StartMethod
	startTime    time.Time

	onStateChange func(State)
}

// New returns a Session with state Unset, not yet loaded.
func New(prefs prefstore.Store, ops cryptoops.Ops) *Session {
	return &Session{prefs: prefs, ops: ops}
}

// OnStateChange registers the state-change callback, fired after the new
// state is fully persisted.
func (s *Session) OnStateChange(fn func(State)) {
	s.onStateChange = fn
}

// State returns the current in-memory state.
func (s *Session) State() State { return s.state }

// Username returns the persisted username.
func (s *Session) Username() string { return s.username }

// RefreshToken returns the persisted refresh token.
func (s *Session) RefreshToken() string { return s.refreshToken }

// UserID returns the persisted user id.
func (s *Session) UserID() string { return s.userID }

// SessionID returns the session's UUID, stable across AUTH_ERROR ↔
// IN_PROGRESS oscillation, regenerated on every new INACTIVE → STARTING.
func (s *Session) SessionID() string { return s.sessionID }

// StartMethod returns how the session was started.
func (s *Session) StartMethod() StartMethod { return s.startMethod }

// SessionIDForDiagnostics returns the session id iff the user has opted
// into full metrics, otherwise the empty string.
func (s *Session) SessionIDForDiagnostics(fullMetricsEnabled bool) string {
	if !fullMetricsEnabled {
		return ""
	}
	return s.sessionID
}

// Name identifies this session as a diagnostics.Supplier.
func (s *Session) Name() string {
	return "session"
}

// DiagnosticFields reports the session's state and start method. The
// session id is withheld here; callers that need it under the
// full-metrics opt-in use SessionIDForDiagnostics directly.
func (s *Session) DiagnosticFields() map[string]string {
	return map[string]string{
		"state":        s.state.String(),
		"start_method": s.startMethod.String(),
	}
}

// SetUsername sets the pending username, used ahead of a STARTING
// transition.
func (s *Session) SetUsername(username string) { s.username = username }

// SetStartMethod sets the pending start method, used ahead of a STARTING
// transition.
func (s *Session) SetStartMethod(m StartMethod) { s.startMethod = m }

// SetRefreshToken sets the refresh token, used ahead of an IN_PROGRESS
// transition.
func (s *Session) SetRefreshToken(token string) { s.refreshToken = token }

// SetUserID sets the user id, used ahead of an IN_PROGRESS transition.
func (s *Session) SetUserID(userID string) { s.userID = userID }

// SetState is the single mutation point. Entering STARTING regenerates
// session_id and sets start_time. Entering AUTH_ERROR clears refresh_token
// and user_id. Entering INACTIVE clears every field. The state-change
// callback fires last, after the new state is already persisted.
func (s *Session) SetState(newState State, now time.Time) {
	switch newState {
	case Starting:
		s.sessionID = uuid.NewString()
		s.startTime = now
	case AuthError:
		s.refreshToken = ""
		s.userID = ""
	case Inactive:
		s.username = ""
		s.refreshToken = ""
		s.userID = ""
		s.sessionID = ""
		s.startMethod = StartMethodUnset
		s.startTime = time.Time{}
	}

	s.state = newState
	s.Store()

	if s.onStateChange != nil {
		s.onStateChange(newState)
	}
}

// invariantHolds reports whether the in-memory fields are self-consistent
// for the current state.
func (s *Session) invariantHolds() bool {
	switch s.state {
	case Inactive:
		return s.username == "" && s.refreshToken == "" && s.sessionID == "" && s.userID == "" &&
			s.startMethod == StartMethodUnset && s.startTime.IsZero()
	case InProgress:
		return s.username != "" && s.refreshToken != "" && s.sessionID != "" && s.userID != "" &&
			s.startMethod != StartMethodUnset
	case AuthError:
		return s.username != "" && s.sessionID != "" && s.userID != "" &&
			!s.startTime.IsZero() && s.startMethod != StartMethodUnset && s.refreshToken == ""
	default:
		return true
	}
}

// Storable reports whether the current state is ever written to disk.
// Writes during STARTING/FINISHING are no-ops.
func (s *Session) Storable() bool {
	switch s.state {
	case Inactive, InProgress, AuthError:
		return true
	default:
		return false
	}
}

// Clear moves the session to INACTIVE through SetState, which clears every
// field, persists the cleared state and fires the state-change callback.
func (s *Session) Clear(now time.Time) {
	s.SetState(Inactive, now)
}

// Store persists the session if its current state is storable. Writes
// during STARTING/FINISHING are silently skipped.
func (s *Session) Store() {
	if !s.Storable() {
		return
	}

	fields := map[string]string{
		fieldRefreshToken: s.refreshToken,
		fieldUserID:       s.userID,
		fieldUserName:     s.username,
		fieldSessionID:    s.sessionID,
		fieldSessionState: strconv.Itoa(int(s.state)),
		fieldStartMethod:  strconv.Itoa(int(s.startMethod)),
		fieldStartTime:    strconv.FormatInt(s.startTime.Unix(), 10),
	}

	for name, value := range fields {
		encrypted, err := s.ops.OSEncrypt(value)
		if err != nil {
			log.Error().Err(err).Str("field", name).Msg("Unable to encrypt session field")
			return
		}
		s.prefs.SetString(prefKey+"."+name, encrypted)
	}
	s.prefs.CommitPendingWrites()
}

// Load reads the persisted session blob synchronously. A loaded state
// failing its invariant is treated as INACTIVE and the stored blob is
// cleared.
func (s *Session) Load() {
	raw := make(map[string]string, 7)
	for _, name := range []string{fieldRefreshToken, fieldUserID, fieldUserName, fieldSessionID, fieldSessionState, fieldStartMethod, fieldStartTime} {
		encoded := s.prefs.GetString(prefKey + "." + name)
		if encoded == "" {
			continue
		}
		decrypted, err := s.ops.OSDecrypt(encoded)
		if err != nil {
			s.resetToInactive()
			return
		}
		raw[name] = decrypted
	}

	stateInt, err := strconv.Atoi(raw[fieldSessionState])
	if err != nil {
		s.resetToInactive()
		return
	}
	startMethodInt, _ := strconv.Atoi(raw[fieldStartMethod])
	startTimeUnix, _ := strconv.ParseInt(raw[fieldStartTime], 10, 64)

	s.state = State(stateInt)
	s.refreshToken = raw[fieldRefreshToken]
	s.userID = raw[fieldUserID]
	s.username = raw[fieldUserName]
	s.sessionID = raw[fieldSessionID]
	s.startMethod = StartMethod(startMethodInt)
	if startTimeUnix > 0 {
		s.startTime = time.Unix(startTimeUnix, 0)
	}

	if !s.invariantHolds() {
		s.resetToInactive()
	}
}

func (s *Session) resetToInactive() {
	s.state = Inactive
	s.username = ""
	s.refreshToken = ""
	s.userID = ""
	s.sessionID = ""
	s.startMethod = StartMethodUnset
	s.startTime = time.Time{}
	s.Store()
}
