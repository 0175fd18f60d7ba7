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

// Package authservice implements AuthService: the orchestrator clients
// register with to request access tokens, and that drives session start,
// session end, revocation, and auth-error recovery.
package authservice

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/traefik/hub-identity-core/internal/clock"
	"github.com/traefik/hub-identity-core/pkg/authtoken"
	"github.com/traefik/hub-identity-core/pkg/devicename"
	"github.com/traefik/hub-identity-core/pkg/migration"
	"github.com/traefik/hub-identity-core/pkg/netmanager"
	"github.com/traefik/hub-identity-core/pkg/netrequest"
	"github.com/traefik/hub-identity-core/pkg/scopeset"
	"github.com/traefik/hub-identity-core/pkg/session"
	"github.com/traefik/hub-identity-core/pkg/throttle"
	"github.com/traefik/hub-identity-core/pkg/tokencache"
)

// EndReason is why a session ended, recorded for diagnostics.
type EndReason string

const (
	ReasonLoggedOut                    EndReason = "LOGGED_OUT"
	ReasonUsernameChangedDuringRelogin EndReason = "USERNAME_CHANGED_DURING_RELOGIN"
	ReasonInvalidCredentials           EndReason = "INVALID_CREDENTIALS"
	ReasonServiceError                 EndReason = "SERVICE_ERROR"
)

// AccessTokenCallback is what a client's OnAccessTokenRequestCompleted
// receives. AuthError is None on success; Token is the zero value
// whenever AuthError is set.
type AccessTokenCallback struct {
	AuthError netrequest.AuthError
	Scopes    scopeset.Set
	Token     authtoken.Token
}

// Client is the back-reference AuthService holds for a registered
// consumer. AuthService never owns a client's lifetime: every use is
// gated by Register/Unregister bookkeeping, not by the Client value
// itself.
type Client interface {
	Name() string
	OnAccessTokenRequestCompleted(result AccessTokenCallback)
	OnAccessTokenRequestDenied(scopes scopeset.Set)
}

type inFlightAccessToken struct {
	req        *netrequest.AccessTokenRequest
	client     Client
	scopes     scopeset.Set
	requestKey string
}

// Config holds the identifiers AuthService stamps onto outbound requests.
type Config struct {
	ClientID           string
	FullMetricsEnabled bool
}

// Service is AuthService.
type Service struct {
	cfg         Config
	session     *session.Session
	cache       *tokencache.Cache
	manager     *netmanager.Manager
	throttler   *throttle.Throttler
	deviceNames *devicename.Service
	migrator    *migration.Migrator
	clock       clock.Clock

	registered map[Client]struct{}

	inFlightByKey map[string]*inFlightAccessToken
	pendingKeys   map[string]struct{}

	refreshTokenForSSORequest *netrequest.AccessTokenRequest

	lastSessionEndReason EndReason
}

// New returns a Service. migrator may be nil when no legacy-credential
// migration path is configured.
func New(
	cfg Config,
	s *session.Session,
	cache *tokencache.Cache,
	manager *netmanager.Manager,
	throttler *throttle.Throttler,
	deviceNames *devicename.Service,
	migrator *migration.Migrator,
	c clock.Clock,
) *Service {
	return &Service{
		cfg:           cfg,
		session:       s,
		cache:         cache,
		manager:       manager,
		throttler:     throttler,
		deviceNames:   deviceNames,
		migrator:      migrator,
		clock:         c,
		registered:    make(map[Client]struct{}),
		inFlightByKey: make(map[string]*inFlightAccessToken),
		pendingKeys:   make(map[string]struct{}),
	}
}

// Start runs the initialization sequence: synchronous session load,
// conditional migration kickoff, then an async token-cache load.
func (s *Service) Start() {
	s.session.Load()

	if s.session.State() == session.Inactive && s.migrator != nil {
		s.migrator.OnResult(s.handleMigrationResult)
		if s.migrator.PrepareMigration(s.session) {
			s.migrator.StartMigration()
		} else {
			s.migrator = nil
		}
	}

	s.cache.Load(s.onTokenCacheLoaded)
}

// Register adds client to the registered set. An access-token request whose
// client is not registered when it runs (after its throttle delay or the
// deferred cache load) is dropped without a callback. Registration is not
// checked for the denials RequestAccessToken reports synchronously, nor
// for the completion of a request that is already in flight.
func (s *Service) Register(client Client) {
	s.registered[client] = struct{}{}
}

// Unregister drops client from the registered set.
func (s *Service) Unregister(client Client) {
	delete(s.registered, client)
}

func (s *Service) isRegistered(client Client) bool {
	_, ok := s.registered[client]
	return ok
}

func (s *Service) onTokenCacheLoaded() {
	switch s.session.State() {
	case session.Starting:
		// Migration is still in flight; it drives the session on its own.
	case session.InProgress, session.AuthError:
		s.migrator = nil
	}
}

// StartSessionWithAuthToken begins a fresh login using an opaque
// auth_token obtained out of band (e.g. from single sign-on).
func (s *Service) StartSessionWithAuthToken(username, authToken string) {
	state := s.session.State()
	if state != session.Inactive && state != session.AuthError {
		return
	}

	if state == session.AuthError && username != s.session.Username() {
		s.EndSession(ReasonUsernameChangedDuringRelogin)
		return
	}

	now := s.clock.Now()
	s.session.SetState(session.Inactive, now)
	s.session.SetStartMethod(session.StartMethodAuthToken)
	s.session.SetUsername(username)
	s.session.SetState(session.Starting, now)

	req := netrequest.NewAuthTokenGrant(s.cfg.ClientID, authToken, scopeset.New("ALL"), s.deviceNameArg(), s.sessionIDForDiagnostics())
	s.refreshTokenForSSORequest = req
	s.manager.StartRequest(req, s)
}

// EndSession tears the session down for reason, in the exact order the
// revoke-survives-cancellation invariant depends on.
func (s *Service) EndSession(reason EndReason) {
	state := s.session.State()
	if state != session.Starting && state != session.InProgress && state != session.AuthError {
		return
	}
	wasInProgress := state == session.InProgress
	refreshToken := s.session.RefreshToken()

	s.migrator = nil
	s.lastSessionEndReason = reason
	s.deviceNames.ClearLastSent()
	s.inFlightByKey = make(map[string]*inFlightAccessToken)
	s.pendingKeys = make(map[string]struct{})
	s.refreshTokenForSSORequest = nil

	s.cache.Clear()
	s.manager.CancelAllRequests()
	s.throttler.Reset()

	now := s.clock.Now()
	if wasInProgress {
		revoke := netrequest.NewRevokeTokenRequest(s.cfg.ClientID, refreshToken, netrequest.RefreshTokenHint)
		s.manager.StartRequest(revoke, s)
		s.session.SetState(session.Finishing, now)
	}

	s.session.Clear(now)
}

// RequestAccessToken asks for a token scoped to exactly one scope. Denial
// (wrong session state) is reported synchronously; success may be
// reported synchronously (cache hit) or later (network round trip).
func (s *Service) RequestAccessToken(client Client, scopes scopeset.Set) {
	if scopes.Len() != 1 {
		log.Error().Int("scopes_len", scopes.Len()).Msg("request_access_token requires exactly one scope")
		client.OnAccessTokenRequestDenied(scopes)
		return
	}

	if s.session.State() != session.InProgress {
		client.OnAccessTokenRequestDenied(scopes)
		return
	}

	requestKey := authtoken.CacheKey(client.Name(), scopes)
	if _, pending := s.pendingKeys[requestKey]; pending {
		return
	}
	s.pendingKeys[requestKey] = struct{}{}

	do := func() { s.doRequestAccessToken(client, scopes, requestKey) }

	// A request that arrives before the cache has loaded runs exactly
	// once the load completes, with no additional throttle delay; one
	// already loaded is throttled per request_key before it runs.
	if !s.cache.Loaded() {
		s.cache.OnceLoaded(do)
		return
	}

	delay := s.throttler.GetAndUpdate(requestKey)
	s.scheduleAfter(delay, do)
}

func (s *Service) scheduleAfter(delay time.Duration, fn func()) {
	if delay <= 0 {
		fn()
		return
	}
	s.clock.AfterFunc(delay, fn)
}

func (s *Service) doRequestAccessToken(client Client, scopes scopeset.Set, requestKey string) {
	delete(s.pendingKeys, requestKey)

	if !s.isRegistered(client) || s.session.State() != session.InProgress {
		return
	}

	if token, ok := s.cache.Get(client.Name(), scopes); ok {
		client.OnAccessTokenRequestCompleted(AccessTokenCallback{AuthError: netrequest.None, Scopes: scopes, Token: token})
		return
	}

	if _, inFlight := s.inFlightByKey[requestKey]; inFlight {
		return
	}

	req := netrequest.NewRefreshTokenGrant(s.cfg.ClientID, s.session.RefreshToken(), scopes, s.deviceNameArg(), s.sessionIDForDiagnostics())
	s.inFlightByKey[requestKey] = &inFlightAccessToken{req: req, client: client, scopes: scopes, requestKey: requestKey}
	s.manager.StartRequest(req, s)
}

// Alive implements netmanager.Consumer. AuthService lives for the process
// lifetime of the identity core.
func (s *Service) Alive() bool { return true }

// OnNetworkRequestFinished implements netmanager.Consumer.
func (s *Service) OnNetworkRequestFinished(req netrequest.Request, status netrequest.Status) {
	switch r := req.(type) {
	case *netrequest.AccessTokenRequest:
		s.handleAccessTokenResponse(r, status)
	case *netrequest.RevokeTokenRequest:
		// Best-effort: no response handling required either way.
	}
}

func (s *Service) handleAccessTokenResponse(req *netrequest.AccessTokenRequest, status netrequest.Status) {
	if req == s.refreshTokenForSSORequest {
		s.handleSSOResponse(req, status)
		return
	}

	entry := s.findInFlight(req)
	if entry == nil {
		return
	}
	delete(s.inFlightByKey, entry.requestKey)

	if status != netrequest.StatusOK {
		return
	}

	result := req.Result()
	if result.AuthError != netrequest.None {
		s.enterAuthError(accessTokenKind, result.AuthError)
		entry.client.OnAccessTokenRequestCompleted(AccessTokenCallback{AuthError: result.AuthError, Scopes: entry.scopes})
		return
	}

	granted := entry.scopes
	if result.GrantedScope != "" {
		granted = scopeset.FromEncoded(result.GrantedScope)
	}
	token := authtoken.New(entry.client.Name(), result.AccessToken, granted, s.clock.Now().Add(time.Duration(result.ExpiresIn)*time.Second))

	s.cache.Evict(token)
	if err := s.cache.Put(token); err != nil {
		log.Error().Err(err).Msg("Unable to cache freshly issued access token")
	}
	if req.DeviceNameSent() {
		s.deviceNames.Store()
	}

	entry.client.OnAccessTokenRequestCompleted(AccessTokenCallback{AuthError: netrequest.None, Scopes: entry.scopes, Token: token})
}

// handleSSOResponse processes refresh_token_for_sso_request, the
// auth-token-grant request issued by StartSessionWithAuthToken. Unlike an
// ordinary access-token request, its job is to establish the session's
// refresh_token and user_id, not to hand a client a bearer token.
// INSECURE_CONNECTION_FORBIDDEN (and any other non-StatusOK delivery) is
// swallowed here: a transient transport config problem doesn't break a
// session still in STARTING.
func (s *Service) handleSSOResponse(req *netrequest.AccessTokenRequest, status netrequest.Status) {
	s.refreshTokenForSSORequest = nil
	if status != netrequest.StatusOK {
		return
	}

	result := req.Result()
	if result.AuthError != netrequest.None {
		s.enterAuthError(refreshTokenKind, result.AuthError)
		return
	}

	s.session.SetRefreshToken(result.RefreshToken)
	s.session.SetUserID(result.UserID)
	s.session.SetState(session.InProgress, s.clock.Now())
	if req.DeviceNameSent() {
		s.deviceNames.Store()
	}
}

func (s *Service) findInFlight(req *netrequest.AccessTokenRequest) *inFlightAccessToken {
	for _, entry := range s.inFlightByKey {
		if entry.req == req {
			return entry
		}
	}
	return nil
}

// authErrorKind distinguishes which in-flight request kind triggered
// enterAuthError: only a failed access-token request revokes the refresh
// token, since a failed refresh-token-for-sso request never had one
// accepted by the server in the first place.
type authErrorKind int

const (
	refreshTokenKind authErrorKind = iota
	accessTokenKind
)

// enterAuthError is the terminal auth-error transition: it captures the
// refresh token before the session clears it, and revokes it best-effort
// iff kind is accessTokenKind.
func (s *Service) enterAuthError(kind authErrorKind, authErr netrequest.AuthError) {
	capturedRefreshToken := s.session.RefreshToken()

	s.session.SetState(session.AuthError, s.clock.Now())
	s.lastSessionEndReason = endReasonForAuthError(authErr)

	s.inFlightByKey = make(map[string]*inFlightAccessToken)
	s.pendingKeys = make(map[string]struct{})
	s.cache.Clear()
	s.manager.CancelAllRequests()

	if kind == accessTokenKind {
		revoke := netrequest.NewRevokeTokenRequest(s.cfg.ClientID, capturedRefreshToken, netrequest.RefreshTokenHint)
		s.manager.StartRequest(revoke, s)
	}

	log.Info().Str("auth_error", string(authErr)).Msg("Session entered AUTH_ERROR")
}

// endReasonForAuthError maps a wire auth_error to the external error kind
// taxonomy: invalid_grant/invalid_client mean the credentials themselves
// are no longer good; invalid_request/invalid_scope mean the server
// rejected the shape of the call.
func endReasonForAuthError(authErr netrequest.AuthError) EndReason {
	switch authErr {
	case netrequest.InvalidGrant, netrequest.InvalidClient:
		return ReasonInvalidCredentials
	default:
		return ReasonServiceError
	}
}

func (s *Service) deviceNameArg() string {
	if s.deviceNames == nil || !s.deviceNames.HasChanged() {
		return ""
	}
	return s.deviceNames.CurrentName()
}

func (s *Service) sessionIDForDiagnostics() string {
	return s.session.SessionIDForDiagnostics(s.cfg.FullMetricsEnabled)
}

func (s *Service) handleMigrationResult(result migration.Result) {
	log.Info().Str("result", string(result)).Msg("OAuth1 migration finished")
	s.migrator = nil
}

// LastSessionEndReason reports why the session most recently ended, for
// diagnostics.
func (s *Service) LastSessionEndReason() EndReason { return s.lastSessionEndReason }
