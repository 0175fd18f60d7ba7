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

package authservice_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traefik/hub-identity-core/internal/clock"
	"github.com/traefik/hub-identity-core/internal/cryptoops"
	"github.com/traefik/hub-identity-core/internal/httpdoer"
	"github.com/traefik/hub-identity-core/internal/prefstore"
	"github.com/traefik/hub-identity-core/pkg/authservice"
	"github.com/traefik/hub-identity-core/pkg/authtoken"
	"github.com/traefik/hub-identity-core/pkg/devicename"
	"github.com/traefik/hub-identity-core/pkg/netmanager"
	"github.com/traefik/hub-identity-core/pkg/netrequest"
	"github.com/traefik/hub-identity-core/pkg/scopeset"
	"github.com/traefik/hub-identity-core/pkg/session"
	"github.com/traefik/hub-identity-core/pkg/throttle"
	"github.com/traefik/hub-identity-core/pkg/tokencache"
	"github.com/traefik/hub-identity-core/pkg/tokenstore"
)

type fakeClient struct {
	name    string
	denied  []scopeset.Set
	results []authservice.AccessTokenCallback
}

func newFakeClient(name string) *fakeClient {
	return &fakeClient{name: name}
}

func (c *fakeClient) Name() string { return c.name }

func (c *fakeClient) OnAccessTokenRequestCompleted(result authservice.AccessTokenCallback) {
	c.results = append(c.results, result)
}

func (c *fakeClient) OnAccessTokenRequestDenied(scopes scopeset.Set) {
	c.denied = append(c.denied, scopes)
}

// harness bundles one AuthService together with the collaborators a test
// needs to reach into directly (the session, the clock, the scripted
// doer) without the service exposing any test-only surface of its own.
type harness struct {
	svc   *authservice.Service
	sess  *session.Session
	clock *clock.Fake
	doer  *httpdoer.Fake
}

func newHarness(t *testing.T, doer *httpdoer.Fake, deviceName string) *harness {
	t.Helper()

	c := clock.NewFake(time.Now())
	ops, err := cryptoops.NewAESCTR([]byte("0123456789abcdef"))
	require.NoError(t, err)

	sess := session.New(prefstore.NewMemory(), ops)
	cache := tokencache.New(tokenstore.NewMemory(ops), c)
	manager := netmanager.New(map[netrequest.URLType]netmanager.URLConfig{
		netrequest.URLTypeOAuth2: {BaseURL: "https://auth2.opera.com"},
	}, doer, c)
	throttler := throttle.New(c, false)
	devNames := devicename.New(prefstore.NewMemory(), ops, func() string { return deviceName })

	svc := authservice.New(authservice.Config{ClientID: "mock-client-id"}, sess, cache, manager, throttler, devNames, nil, c)
	return &harness{svc: svc, sess: sess, clock: c, doer: doer}
}

// putInProgress drives sess through the same transitions the SSO success
// path would, without needing a network round trip, for tests whose focus
// is entirely on request_access_token.
func (h *harness) putInProgress(username, refreshToken, userID string) {
	h.sess.SetUsername(username)
	h.sess.SetStartMethod(session.StartMethodAuthToken)
	h.sess.SetState(session.Starting, h.clock.Now())
	h.sess.SetRefreshToken(refreshToken)
	h.sess.SetUserID(userID)
	h.sess.SetState(session.InProgress, h.clock.Now())
}

func accessTokenJSON(fields map[string]string) []byte {
	body := "{"
	first := true
	for _, k := range []string{"access_token", "token_type", "expires_in", "scope", "refresh_token", "user_id"} {
		v, ok := fields[k]
		if !ok {
			continue
		}
		if !first {
			body += ","
		}
		first = false
		body += `"` + k + `":`
		if k == "expires_in" {
			body += v
		} else {
			body += `"` + v + `"`
		}
	}
	body += "}"
	return []byte(body)
}

func Test_StartSessionWithAuthTokenSuccess(t *testing.T) {
	h := newHarness(t, &httpdoer.Fake{
		Responses: []httpdoer.Response{{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body: accessTokenJSON(map[string]string{
				"access_token":  "mock-access-token",
				"token_type":    "Bearer",
				"expires_in":    "3600",
				"refresh_token": "mock-refresh-token",
				"user_id":       "mock-user-id",
			}),
		}},
	}, "")

	h.svc.Start()
	h.svc.StartSessionWithAuthToken("alice", "mock-auth-token")

	require.Len(t, h.doer.Calls, 1)
	call := h.doer.Calls[0]
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Contains(t, string(call.Body), "grant_type=auth_token")
	assert.Contains(t, string(call.Body), "client_id=mock-client-id")
	assert.Contains(t, string(call.Body), "auth_token=mock-auth-token")

	assert.Equal(t, session.InProgress, h.sess.State())
	assert.Equal(t, "mock-refresh-token", h.sess.RefreshToken())
	assert.Equal(t, "mock-user-id", h.sess.UserID())
}

func Test_AccessTokenAuthErrorLogsOutAndRevokes(t *testing.T) {
	h := newHarness(t, &httpdoer.Fake{
		Responses: []httpdoer.Response{
			{StatusCode: http.StatusUnauthorized, Header: http.Header{}, Body: []byte(`{"error":"invalid_grant"}`)},
			{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(`{}`)},
		},
	}, "")

	h.svc.Start()
	h.putInProgress("alice", "mock-refresh-token", "mock-user-id")

	client := newFakeClient("mock-scope-client")
	h.svc.Register(client)
	h.svc.RequestAccessToken(client, scopeset.New("SOME_SCOPE"))

	require.Len(t, h.doer.Calls, 2, "refresh-token-grant then revoke, in that order")
	assert.Contains(t, string(h.doer.Calls[0].Body), "grant_type=refresh_token")
	assert.Contains(t, string(h.doer.Calls[1].Body), "token_type_hint=refresh_token")
	assert.Contains(t, string(h.doer.Calls[1].Body), "token=mock-refresh-token")

	require.Len(t, client.results, 1)
	assert.Equal(t, netrequest.InvalidGrant, client.results[0].AuthError)
	assert.Equal(t, session.AuthError, h.sess.State())
	assert.Equal(t, authservice.ReasonInvalidCredentials, h.svc.LastSessionEndReason())
}

func Test_RequestAccessTokenDeferredUntilCacheLoads(t *testing.T) {
	ops, err := cryptoops.NewAESCTR([]byte("0123456789abcdef"))
	require.NoError(t, err)

	existing := authtoken.New("mock-scope-client", "cached-secret", scopeset.New("SOME_SCOPE"), time.Now().Add(time.Hour))
	store := tokenstore.NewMemory(ops)
	require.NoError(t, store.Save([]authtoken.Token{existing}))

	c := clock.NewFake(time.Now())
	sess := session.New(prefstore.NewMemory(), ops)
	cache := tokencache.New(store, c)
	manager := netmanager.New(map[netrequest.URLType]netmanager.URLConfig{
		netrequest.URLTypeOAuth2: {BaseURL: "https://auth2.opera.com"},
	}, &httpdoer.Fake{}, c)
	throttler := throttle.New(c, false)
	devNames := devicename.New(prefstore.NewMemory(), ops, func() string { return "" })
	svc := authservice.New(authservice.Config{ClientID: "mock-client-id"}, sess, cache, manager, throttler, devNames, nil, c)

	sess.SetUsername("alice")
	sess.SetStartMethod(session.StartMethodAuthToken)
	sess.SetState(session.Starting, c.Now())
	sess.SetRefreshToken("mock-refresh-token")
	sess.SetUserID("mock-user-id")
	sess.SetState(session.InProgress, c.Now())

	client := newFakeClient("mock-scope-client")
	svc.Register(client)

	// request_access_token arrives before cache.Load (driven by svc.Start,
	// below) has run its callback.
	svc.RequestAccessToken(client, scopeset.New("SOME_SCOPE"))
	assert.Empty(t, client.results, "request arrived before the cache loaded, so it waits")

	svc.Start()

	require.Len(t, client.results, 1)
	assert.Equal(t, netrequest.None, client.results[0].AuthError)
	assert.Equal(t, "cached-secret", client.results[0].Token.Secret)
}

func Test_UsernameChangeDuringReloginEndsSessionWithNoNetworkActivity(t *testing.T) {
	h := newHarness(t, &httpdoer.Fake{}, "")
	h.svc.Start()
	h.putInProgress("alice", "mock-refresh-token", "mock-user-id")
	h.sess.SetState(session.AuthError, h.clock.Now())

	before := len(h.doer.Calls)
	h.svc.StartSessionWithAuthToken("bob", "mock-auth-token-2")

	assert.Equal(t, before, len(h.doer.Calls), "no network activity: session ends instead of starting")
	assert.Equal(t, session.Inactive, h.sess.State())
	assert.Equal(t, authservice.ReasonUsernameChangedDuringRelogin, h.svc.LastSessionEndReason())
}

func Test_RequestAccessTokenRejectsMultiScope(t *testing.T) {
	h := newHarness(t, &httpdoer.Fake{}, "")
	h.svc.Start()
	h.putInProgress("alice", "mock-refresh-token", "mock-user-id")

	client := newFakeClient("mock-scope-client")
	h.svc.Register(client)
	h.svc.RequestAccessToken(client, scopeset.New("A", "B"))

	require.Len(t, client.denied, 1)
	assert.Empty(t, client.results)
	assert.Empty(t, h.doer.Calls)
}

func Test_RequestAccessTokenDedupesInFlight(t *testing.T) {
	h := newHarness(t, &httpdoer.Fake{}, "")
	h.svc.Start()
	h.putInProgress("alice", "mock-refresh-token", "mock-user-id")

	client := newFakeClient("mock-scope-client")
	h.svc.Register(client)

	h.svc.RequestAccessToken(client, scopeset.New("SOME_SCOPE"))
	h.svc.RequestAccessToken(client, scopeset.New("SOME_SCOPE"))

	assert.Len(t, h.doer.Calls, 1, "a second request for the same key while one is in flight issues no new call")
}

func Test_RequestAccessTokenDeniedWhenSessionNotInProgress(t *testing.T) {
	h := newHarness(t, &httpdoer.Fake{}, "")
	h.svc.Start()

	client := newFakeClient("mock-scope-client")
	h.svc.Register(client)
	h.svc.RequestAccessToken(client, scopeset.New("SOME_SCOPE"))

	require.Len(t, client.denied, 1)
	assert.Empty(t, h.doer.Calls)
}

func Test_EndSessionWhileInProgressRevokesAndClearsCache(t *testing.T) {
	h := newHarness(t, &httpdoer.Fake{
		Responses: []httpdoer.Response{{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(`{}`)}},
	}, "")
	h.svc.Start()
	h.putInProgress("alice", "mock-refresh-token", "mock-user-id")

	h.svc.EndSession(authservice.ReasonLoggedOut)

	require.Len(t, h.doer.Calls, 1)
	assert.Contains(t, string(h.doer.Calls[0].Body), "token_type_hint=refresh_token")
	assert.Contains(t, string(h.doer.Calls[0].Body), "token=mock-refresh-token")
	assert.Equal(t, session.Inactive, h.sess.State())
	assert.Equal(t, authservice.ReasonLoggedOut, h.svc.LastSessionEndReason())
}

func Test_EndSessionWhileStartingDoesNotRevoke(t *testing.T) {
	h := newHarness(t, &httpdoer.Fake{}, "")
	h.svc.Start()
	h.sess.SetUsername("alice")
	h.sess.SetStartMethod(session.StartMethodAuthToken)
	h.sess.SetState(session.Starting, h.clock.Now())

	h.svc.EndSession(authservice.ReasonLoggedOut)

	assert.Empty(t, h.doer.Calls, "no refresh token was ever established, nothing to revoke")
	assert.Equal(t, session.Inactive, h.sess.State())
}
