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

// Package migration implements OAuth1Migrator: the one-shot migration
// from legacy OAuth1 credentials to an OAuth2 refresh token.
package migration

import (
	"fmt"
	"time"

	"github.com/traefik/hub-identity-core/pkg/netmanager"
	"github.com/traefik/hub-identity-core/pkg/netrequest"
	"github.com/traefik/hub-identity-core/pkg/scopeset"
	"github.com/traefik/hub-identity-core/pkg/session"
)

// LegacyBlob is the legacy credential record migration starts from.
type LegacyBlob struct {
	Login       string
	Email       string
	UserID      string
	TimeSkew    int64
	Token       string
	TokenSecret string
}

// LegacyStore loads and clears the legacy credential blob. The real
// storage engine is a browser-process collaborator out of scope; this
// trait is all OAuth1Migrator depends on.
type LegacyStore interface {
	Load() (LegacyBlob, bool)
	Clear() error
}

// Result is the outcome of one migration attempt.
type Result string

const (
	Success           Result = "SUCCESS"
	SuccessWithBounce Result = "SUCCESS_WITH_BOUNCE"
)

// OAuth2AuthErrorResult builds an "O2_<variant>" result for an OAuth2
// token-endpoint auth error that ends the migration: any error other than
// invalid_grant, or invalid_grant once the renewal bounce has been used.
func OAuth2AuthErrorResult(authError netrequest.AuthError) Result {
	return Result("O2_" + string(authError))
}

// OAuth1ErrorResult builds an "MR_O1_<code>_*"-shaped result for a legacy
// renewal error code, matching the naming the original implementation
// used (e.g. 425 → MR_O1_425_INVALID_OPERA_TOKEN).
func OAuth1ErrorResult(code int, name string) Result {
	return Result(fmt.Sprintf("MR_O1_%d_%s", code, name))
}

// oauth1ErrorNames maps the legacy renewal err_code values this core
// recognizes to their stable result suffix. Codes not in this table still
// produce a result, just with a generic suffix.
var oauth1ErrorNames = map[int]string{
	425: "INVALID_OPERA_TOKEN",
}

// renewalNotExpired is the legacy renewal err_code meaning the token being
// renewed wasn't actually expired: renew succeeded in the sense that the
// original token remains usable, so migration retries with it unchanged.
const renewalNotExpired = 428

// Config holds the OAuth1 endpoint and signing material.
type Config struct {
	ClientID           string
	OAuth1Host         string
	ConsumerKey        string
	ConsumerSecret     string
	Service            string
	FullMetricsEnabled bool
}

// Migrator is OAuth1Migrator.
type Migrator struct {
	cfg     Config
	legacy  LegacyStore
	manager *netmanager.Manager
	clock   func() time.Time

	session *session.Session
	blob    LegacyBlob

	bounced  bool
	onResult func(Result)
}

// New returns a Migrator driven by manager and reading legacy credentials
// from legacy.
func New(cfg Config, legacy LegacyStore, manager *netmanager.Manager, clock func() time.Time) *Migrator {
	return &Migrator{cfg: cfg, legacy: legacy, manager: manager, clock: clock}
}

// OnResult registers the callback fired once the migration attempt (and
// any renewal bounce) concludes.
func (m *Migrator) OnResult(fn func(Result)) { m.onResult = fn }

// IsMigrationPossible reports whether blob carries enough material to
// attempt a migration: a (token, token_secret) pair and a login or email.
func IsMigrationPossible(blob LegacyBlob) bool {
	return blob.Token != "" && blob.TokenSecret != "" && (blob.Login != "" || blob.Email != "")
}

// PrepareMigration loads the legacy blob and, if migration is possible,
// sets the session's pending username/start_method and transitions it to
// STARTING. Returns false if no migration is possible.
func (m *Migrator) PrepareMigration(s *session.Session) bool {
	blob, ok := m.legacy.Load()
	if !ok || !IsMigrationPossible(blob) {
		return false
	}

	m.session = s
	m.blob = blob

	username := blob.Login
	if username == "" {
		username = blob.Email
	}
	s.SetUsername(username)
	s.SetStartMethod(session.StartMethodOAuth1)
	s.SetState(session.Starting, m.clock())
	return true
}

// StartMigration issues the MigrationTokenRequest signed with the legacy
// credentials.
func (m *Migrator) StartMigration() {
	req := netrequest.NewMigrationTokenRequest(
		m.cfg.ClientID, scopeset.New("ALL").Encode(), m.session.SessionIDForDiagnostics(m.cfg.FullMetricsEnabled), m.cfg.OAuth1Host,
		m.cfg.ConsumerKey, m.cfg.ConsumerSecret, m.blob.Token, m.blob.TokenSecret, m.blob.TimeSkew,
	)
	m.manager.StartRequest(req, m)
}

// Alive implements netmanager.Consumer. The migrator is owned by
// AuthService for the duration of exactly one migration and is always
// live while it is registered as a consumer.
func (m *Migrator) Alive() bool { return true }

// OnNetworkRequestFinished implements netmanager.Consumer.
func (m *Migrator) OnNetworkRequestFinished(req netrequest.Request, status netrequest.Status) {
	switch r := req.(type) {
	case *netrequest.MigrationTokenRequest:
		m.handleMigrationResponse(r, status)
	case *netrequest.OAuth1RenewTokenRequest:
		m.handleRenewalResponse(r, status)
	}
}

func (m *Migrator) handleMigrationResponse(req *netrequest.MigrationTokenRequest, status netrequest.Status) {
	if status != netrequest.StatusOK {
		return
	}
	result := req.Result()

	if result.AuthError == netrequest.None {
		m.session.SetRefreshToken(result.RefreshToken)
		m.session.SetUserID(result.UserID)
		m.session.SetState(session.InProgress, m.clock())
		_ = m.legacy.Clear()

		if m.bounced {
			m.finish(SuccessWithBounce)
		} else {
			m.finish(Success)
		}
		return
	}

	if result.AuthError == netrequest.InvalidGrant && !m.bounced {
		renew := netrequest.NewOAuth1RenewTokenRequest(m.cfg.ConsumerKey, m.cfg.ConsumerSecret, m.blob.Token, m.cfg.Service)
		m.manager.StartRequest(renew, m)
		return
	}

	m.session.SetState(session.AuthError, m.clock())
	_ = m.legacy.Clear()
	m.finish(OAuth2AuthErrorResult(result.AuthError))
}

func (m *Migrator) handleRenewalResponse(req *netrequest.OAuth1RenewTokenRequest, status netrequest.Status) {
	if status != netrequest.StatusOK {
		m.session.SetState(session.AuthError, m.clock())
		_ = m.legacy.Clear()
		m.finish(Result("RENEWAL_HTTP_PROBLEM"))
		return
	}

	result := req.Result()

	if result.ErrCode != 0 && result.ErrCode != renewalNotExpired {
		name, ok := oauth1ErrorNames[result.ErrCode]
		if !ok {
			name = "UNKNOWN"
		}
		m.session.SetState(session.AuthError, m.clock())
		_ = m.legacy.Clear()
		m.finish(OAuth1ErrorResult(result.ErrCode, name))
		return
	}

	if result.ErrCode == 0 {
		m.blob.Token = result.AuthToken
		m.blob.TokenSecret = result.AuthTokenSecret
	}

	m.bounced = true
	m.StartMigration()
}

func (m *Migrator) finish(result Result) {
	if m.onResult != nil {
		m.onResult(result)
	}
}

// EnsureOAuth1SessionIsCleared idempotently erases the legacy blob.
func (m *Migrator) EnsureOAuth1SessionIsCleared() error {
	return m.legacy.Clear()
}
