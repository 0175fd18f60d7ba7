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

	"github.com/traefik/hub-identity-core/pkg/reqvars"
	"github.com/traefik/hub-identity-core/pkg/respparse"
	"github.com/traefik/hub-identity-core/pkg/scopeset"
)

const grantAuthToken = "auth_token"
const grantRefreshToken = "refresh_token"

// AccessTokenRequest is the POST /oauth2/v1/token/ request, in either of
// its two grant shapes.
type AccessTokenRequest struct {
	grantType  string
	clientID   string
	scopes     scopeset.Set
	authToken  string
	refresh    string
	deviceName string
	sid        string

	result AccessTokenResult
}

// AccessTokenResult is what AuthService reads back after TryResponse runs.
type AccessTokenResult struct {
	Status           Status
	AuthError        AuthError
	ErrorDescription string
	AccessToken      string
	TokenType        string
	ExpiresIn        int
	GrantedScope     string
	RefreshToken     string
	UserID           string
	DeviceNameSent   bool
}

// NewAuthTokenGrant builds the "auth_token" grant variant, used during
// start_session_with_auth_token.
func NewAuthTokenGrant(clientID, authToken string, scopes scopeset.Set, deviceName, sid string) *AccessTokenRequest {
	return &AccessTokenRequest{
		grantType:  grantAuthToken,
		clientID:   clientID,
		scopes:     scopes,
		authToken:  authToken,
		deviceName: deviceName,
		sid:        sid,
	}
}

// NewRefreshTokenGrant builds the "refresh_token" grant variant, used by
// do_request_access_token on a cache miss.
func NewRefreshTokenGrant(clientID, refreshToken string, scopes scopeset.Set, deviceName, sid string) *AccessTokenRequest {
	return &AccessTokenRequest{
		grantType:  grantRefreshToken,
		clientID:   clientID,
		scopes:     scopes,
		refresh:    refreshToken,
		deviceName: deviceName,
		sid:        sid,
	}
}

// Path implements Request.
func (r *AccessTokenRequest) Path() string { return "/oauth2/v1/token/" }

// Method implements Request.
func (r *AccessTokenRequest) Method() string { return http.MethodPost }

// ContentType implements Request.
func (r *AccessTokenRequest) ContentType() string { return "application/x-www-form-urlencoded" }

// ExtraHeaders implements Request.
func (r *AccessTokenRequest) ExtraHeaders() http.Header { return nil }

// URLType implements Request.
func (r *AccessTokenRequest) URLType() URLType { return URLTypeOAuth2 }

// Body implements Request.
func (r *AccessTokenRequest) Body() string {
	enc := reqvars.New().
		Set("client_id", r.clientID).
		Set("scope", r.scopes.Encode()).
		Set("grant_type", r.grantType)

	switch r.grantType {
	case grantAuthToken:
		enc.Set("auth_token", r.authToken)
	case grantRefreshToken:
		enc.Set("refresh_token", r.refresh)
	}

	enc.SetIf(r.deviceName != "", "device_name", r.deviceName)
	return enc.Encode(reqvars.FormBody)
}

// QueryString implements Request.
func (r *AccessTokenRequest) QueryString() string {
	return reqvars.New().SetIf(r.sid != "", "sid", r.sid).Encode(reqvars.QueryString)
}

// DeviceNameSent reports whether this request carried a device_name field,
// so the caller knows whether to call DeviceNameService.Store on success.
func (r *AccessTokenRequest) DeviceNameSent() bool {
	return r.deviceName != ""
}

// IsAuthTokenGrant reports whether this is the initial-login grant, which
// requires refresh_token and user_id in a 200 response.
func (r *AccessTokenRequest) IsAuthTokenGrant() bool {
	return r.grantType == grantAuthToken
}

// Result returns the parsed response, valid only after TryResponse has run.
func (r *AccessTokenRequest) Result() AccessTokenResult { return r.result }

// TryResponse implements Request.
func (r *AccessTokenRequest) TryResponse(statusCode int, body []byte) Status {
	p, err := respparse.New(body)
	if err != nil {
		r.result = AccessTokenResult{Status: StatusParseProblem}
		return StatusParseProblem
	}

	switch statusCode {
	case http.StatusOK:
		return r.tryOK(p)
	case http.StatusBadRequest:
		return r.tryError(p, InvalidRequest)
	case http.StatusUnauthorized:
		return r.tryError(p, InvalidClient, InvalidGrant, InvalidScope)
	default:
		r.result = AccessTokenResult{Status: StatusHTTPProblem}
		return StatusHTTPProblem
	}
}

func (r *AccessTokenRequest) tryOK(p *respparse.Parser) Status {
	accessToken, err := p.RequiredString("access_token")
	if err != nil {
		r.result = AccessTokenResult{Status: StatusParseProblem}
		return StatusParseProblem
	}
	tokenType, err := p.RequiredString("token_type")
	if err != nil || tokenType != "Bearer" {
		r.result = AccessTokenResult{Status: StatusParseProblem}
		return StatusParseProblem
	}
	expiresIn, err := p.RequiredPositiveInt("expires_in")
	if err != nil {
		r.result = AccessTokenResult{Status: StatusParseProblem}
		return StatusParseProblem
	}
	scope, err := p.OptionalString("scope")
	if err != nil {
		r.result = AccessTokenResult{Status: StatusParseProblem}
		return StatusParseProblem
	}

	refreshToken, userID := "", ""
	if r.IsAuthTokenGrant() {
		refreshToken, err = p.RequiredString("refresh_token")
		if err != nil {
			r.result = AccessTokenResult{Status: StatusParseProblem}
			return StatusParseProblem
		}
		userID, err = p.RequiredString("user_id")
		if err != nil {
			r.result = AccessTokenResult{Status: StatusParseProblem}
			return StatusParseProblem
		}
	} else {
		refreshToken, _ = p.OptionalString("refresh_token")
		userID, _ = p.OptionalString("user_id")
	}

	r.result = AccessTokenResult{
		Status:         StatusOK,
		AuthError:      None,
		AccessToken:    accessToken,
		TokenType:      tokenType,
		ExpiresIn:      expiresIn,
		GrantedScope:   scope,
		RefreshToken:   refreshToken,
		UserID:         userID,
		DeviceNameSent: r.DeviceNameSent(),
	}
	return StatusOK
}

func (r *AccessTokenRequest) tryError(p *respparse.Parser, allowed ...string) Status {
	errValue, err := p.RequiredOneOf("error", allowed...)
	if err != nil {
		r.result = AccessTokenResult{Status: StatusParseProblem}
		return StatusParseProblem
	}
	desc, _ := p.OptionalString("error_description")

	r.result = AccessTokenResult{
		Status:           StatusOK,
		AuthError:        AuthError(errValue),
		ErrorDescription: desc,
	}
	return StatusOK
}
