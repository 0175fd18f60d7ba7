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

package netrequest

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/traefik/hub-identity-core/pkg/reqvars"
)

// MigrationTokenRequest exchanges a legacy OAuth1 token for an OAuth2
// refresh token. The legacy credentials sign the request itself instead of
// appearing in the body; headers are regenerated on every attempt since
// the nonce and timestamp must be fresh.
type MigrationTokenRequest struct {
	clientID       string
	scopeEncoded   string
	sid            string
	oauth1Host     string
	consumerKey    string
	consumerSecret string
	legacyToken    string
	legacySecret   string
	timeSkew       int64
	nowFn          func() time.Time

	result AccessTokenResult
}

// NewMigrationTokenRequest builds a request signing the legacy credentials
// against the given oauth1Host (used for both the signed URL and the
// Authorization header's realm).
func NewMigrationTokenRequest(clientID, scopeEncoded, sid, oauth1Host, consumerKey, consumerSecret, legacyToken, legacySecret string, timeSkew int64) *MigrationTokenRequest {
	return &MigrationTokenRequest{
		clientID:       clientID,
		scopeEncoded:   scopeEncoded,
		sid:            sid,
		oauth1Host:     oauth1Host,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		legacyToken:    legacyToken,
		legacySecret:   legacySecret,
		timeSkew:       timeSkew,
		nowFn:          time.Now,
	}
}

// Path implements Request.
func (r *MigrationTokenRequest) Path() string { return "/oauth2/v1/token/" }

// Method implements Request.
func (r *MigrationTokenRequest) Method() string { return http.MethodPost }

// ContentType implements Request.
func (r *MigrationTokenRequest) ContentType() string { return "application/x-www-form-urlencoded" }

// URLType implements Request.
func (r *MigrationTokenRequest) URLType() URLType { return URLTypeOAuth2 }

// Body implements Request.
func (r *MigrationTokenRequest) Body() string {
	return reqvars.New().
		Set("client_id", r.clientID).
		Set("scope", r.scopeEncoded).
		Set("grant_type", "oauth1_token").
		Encode(reqvars.FormBody)
}

// QueryString implements Request.
func (r *MigrationTokenRequest) QueryString() string {
	return reqvars.New().SetIf(r.sid != "", "sid", r.sid).Encode(reqvars.QueryString)
}

// ExtraHeaders implements Request. The Authorization header is regenerated
// on every call, producing a fresh nonce/timestamp per attempt per spec.
func (r *MigrationTokenRequest) ExtraHeaders() http.Header {
	header := signOAuth1Header(http.MethodPost, "https://"+r.oauth1Host+r.Path(), oauth1Params{
		consumerKey:    r.consumerKey,
		token:          r.legacyToken,
		nonce:          uuid.NewString(),
		timestampUnix:  r.nowFn().Unix(),
		operaTimeSkew:  r.timeSkew,
		consumerSecret: r.consumerSecret,
		tokenSecret:    r.legacySecret,
	})
	header += `, realm="` + r.oauth1Host + `"`

	h := make(http.Header)
	h.Set("Authorization", header)
	return h
}

// Result returns the parsed response, valid only after TryResponse has run.
func (r *MigrationTokenRequest) Result() AccessTokenResult { return r.result }

// TryResponse implements Request. Response shape is identical to the
// auth-token grant's.
func (r *MigrationTokenRequest) TryResponse(statusCode int, body []byte) Status {
	delegate := &AccessTokenRequest{grantType: grantAuthToken}
	status := delegate.TryResponse(statusCode, body)
	r.result = delegate.Result()
	return status
}
