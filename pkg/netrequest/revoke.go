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
)

// TokenTypeHint selects what kind of token RevokeTokenRequest is revoking.
type TokenTypeHint string

const (
	RefreshTokenHint TokenTypeHint = "refresh_token"
	AccessTokenHint  TokenTypeHint = "access_token"
)

// RevokeTokenRequest is the best-effort POST /oauth2/v1/revoketoken/ call
// issued on logout and on entering AUTH_ERROR.
type RevokeTokenRequest struct {
	clientID string
	token    string
	hint     TokenTypeHint

	result RevokeResult
}

// RevokeResult is what the caller reads back after TryResponse.
type RevokeResult struct {
	Status           Status
	AuthError        AuthError
	ErrorDescription string
}

// NewRevokeTokenRequest builds the revoke request.
func NewRevokeTokenRequest(clientID, token string, hint TokenTypeHint) *RevokeTokenRequest {
	return &RevokeTokenRequest{clientID: clientID, token: token, hint: hint}
}

// Path implements Request.
func (r *RevokeTokenRequest) Path() string { return "/oauth2/v1/revoketoken/" }

// Method implements Request.
func (r *RevokeTokenRequest) Method() string { return http.MethodPost }

// ContentType implements Request.
func (r *RevokeTokenRequest) ContentType() string { return "application/x-www-form-urlencoded" }

// ExtraHeaders implements Request.
func (r *RevokeTokenRequest) ExtraHeaders() http.Header { return nil }

// QueryString implements Request.
func (r *RevokeTokenRequest) QueryString() string { return "" }

// URLType implements Request.
func (r *RevokeTokenRequest) URLType() URLType { return URLTypeOAuth2 }

// Body implements Request.
func (r *RevokeTokenRequest) Body() string {
	return reqvars.New().
		Set("client_id", r.clientID).
		Set("token", r.token).
		Set("token_type_hint", string(r.hint)).
		Encode(reqvars.FormBody)
}

// Result returns the parsed response, valid only after TryResponse has run.
func (r *RevokeTokenRequest) Result() RevokeResult { return r.result }

// TryResponse implements Request.
func (r *RevokeTokenRequest) TryResponse(statusCode int, body []byte) Status {
	switch statusCode {
	case http.StatusOK:
		r.result = RevokeResult{Status: StatusOK}
		return StatusOK
	case http.StatusBadRequest:
		return r.tryError(body, "invalid_request")
	case http.StatusUnauthorized:
		return r.tryError(body, "invalid_client")
	default:
		r.result = RevokeResult{Status: StatusHTTPProblem}
		return StatusHTTPProblem
	}
}

func (r *RevokeTokenRequest) tryError(body []byte, allowed ...string) Status {
	p, err := parseOrProblem(body)
	if err != nil {
		r.result = RevokeResult{Status: StatusParseProblem}
		return StatusParseProblem
	}
	errValue, err := p.RequiredOneOf("error", allowed...)
	if err != nil {
		r.result = RevokeResult{Status: StatusParseProblem}
		return StatusParseProblem
	}
	desc, _ := p.OptionalString("error_description")
	r.result = RevokeResult{Status: StatusOK, AuthError: AuthError(errValue), ErrorDescription: desc}
	return StatusOK
}
