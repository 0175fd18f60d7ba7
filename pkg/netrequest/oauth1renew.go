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
	"crypto/sha1" //nolint:gosec // legacy protocol requires SHA1, not a free choice.
	"encoding/hex"
	"net/http"

	"github.com/traefik/hub-identity-core/pkg/reqvars"
	"github.com/traefik/hub-identity-core/pkg/respparse"
)

// OAuth1RenewTokenRequest renews an expired-but-not-invalid legacy OAuth1
// token ahead of a migration retry.
type OAuth1RenewTokenRequest struct {
	consumerKey    string
	consumerSecret string
	oldToken       string
	service        string

	result OAuth1RenewResult
}

// OAuth1RenewResult is what OAuth1Migrator reads back after TryResponse.
type OAuth1RenewResult struct {
	Status         Status
	AuthToken      string
	AuthTokenSecret string
	UserName       string
	UserEmail      string
	ErrCode        int
	ErrMsg         string
}

// NewOAuth1RenewTokenRequest builds the renewal request. The signature is
// hex(sha1("consumer_key=<c>&old_token=<t>&service=<s>X<client_secret>")),
// a legacy scheme distinct from the standard OAuth1 HMAC signing used
// elsewhere.
func NewOAuth1RenewTokenRequest(consumerKey, consumerSecret, oldToken, service string) *OAuth1RenewTokenRequest {
	return &OAuth1RenewTokenRequest{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		oldToken:       oldToken,
		service:        service,
	}
}

// Path implements Request.
func (r *OAuth1RenewTokenRequest) Path() string { return "/account/access-token/renewal/" }

// Method implements Request.
func (r *OAuth1RenewTokenRequest) Method() string { return http.MethodGet }

// ContentType implements Request.
func (r *OAuth1RenewTokenRequest) ContentType() string { return "" }

// Body implements Request.
func (r *OAuth1RenewTokenRequest) Body() string { return "" }

// ExtraHeaders implements Request.
func (r *OAuth1RenewTokenRequest) ExtraHeaders() http.Header { return nil }

// URLType implements Request.
func (r *OAuth1RenewTokenRequest) URLType() URLType { return URLTypeOAuth1 }

func (r *OAuth1RenewTokenRequest) signature() string {
	msg := "consumer_key=" + r.consumerKey + "&old_token=" + r.oldToken + "&service=" + r.service + "X" + r.consumerSecret
	sum := sha1.Sum([]byte(msg)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// QueryString implements Request.
func (r *OAuth1RenewTokenRequest) QueryString() string {
	return reqvars.New().
		Set("consumer_key", r.consumerKey).
		Set("old_token", r.oldToken).
		Set("service", r.service).
		Set("signature", r.signature()).
		Encode(reqvars.QueryString)
}

// Result returns the parsed response, valid only after TryResponse has run.
func (r *OAuth1RenewTokenRequest) Result() OAuth1RenewResult { return r.result }

// TryResponse implements Request.
func (r *OAuth1RenewTokenRequest) TryResponse(statusCode int, body []byte) Status {
	if statusCode != http.StatusOK {
		r.result = OAuth1RenewResult{Status: StatusHTTPProblem}
		return StatusHTTPProblem
	}

	p, err := respparse.New(body)
	if err != nil {
		r.result = OAuth1RenewResult{Status: StatusParseProblem}
		return StatusParseProblem
	}

	if p.Has("err_code") {
		errCode, err := p.RequiredPositiveInt("err_code")
		if err != nil {
			r.result = OAuth1RenewResult{Status: StatusParseProblem}
			return StatusParseProblem
		}
		errMsg, _ := p.OptionalString("err_msg")
		r.result = OAuth1RenewResult{Status: StatusOK, ErrCode: errCode, ErrMsg: errMsg}
		return StatusOK
	}

	authToken, err := p.RequiredString("auth_token")
	if err != nil {
		r.result = OAuth1RenewResult{Status: StatusParseProblem}
		return StatusParseProblem
	}
	authTokenSecret, err := p.RequiredString("auth_token_secret")
	if err != nil {
		r.result = OAuth1RenewResult{Status: StatusParseProblem}
		return StatusParseProblem
	}

	userName, _ := p.OptionalString("userName")
	userEmail, _ := p.OptionalString("userEmail")
	if userName == "" && userEmail == "" {
		r.result = OAuth1RenewResult{Status: StatusParseProblem}
		return StatusParseProblem
	}

	r.result = OAuth1RenewResult{
		Status:          StatusOK,
		AuthToken:       authToken,
		AuthTokenSecret: authTokenSecret,
		UserName:        userName,
		UserEmail:       userEmail,
	}
	return StatusOK
}
