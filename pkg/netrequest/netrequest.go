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

// Package netrequest declares the NetworkRequest trait and its concrete
// kinds: one value per outbound call the identity core ever makes,
// self-describing its URL class, method, headers, body, and how to turn a
// raw HTTP response into a NetworkResponseStatus.
package netrequest

import "net/http"

// Status is the outcome NetworkRequestManager drives its scheduling from.
type Status int

const (
	// StatusOK is a successfully parsed, successful response.
	StatusOK Status = iota
	// StatusHTTPProblem covers transport failures, unexpected status
	// codes, and 5xx — recoverable with backoff.
	StatusHTTPProblem
	// StatusParseProblem is a 2xx/4xx response this request could not
	// make sense of — recoverable with backoff.
	StatusParseProblem
	// StatusThrottled is a 429 with a Retry-After header — recoverable
	// after the server-specified delay.
	StatusThrottled
	// StatusInsecureConnectionForbidden is terminal: the resolved URL
	// was plaintext and the manager's config disallows it for this
	// request's URL type.
	StatusInsecureConnectionForbidden
)

// String implements fmt.Stringer for readable log lines.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusHTTPProblem:
		return "HTTP_PROBLEM"
	case StatusParseProblem:
		return "PARSE_PROBLEM"
	case StatusThrottled:
		return "THROTTLED"
	case StatusInsecureConnectionForbidden:
		return "INSECURE_CONNECTION_FORBIDDEN"
	default:
		return "UNKNOWN"
	}
}

// AuthError is the stable wire enum for token-endpoint error responses.
type AuthError string

// None means the response carried no auth_error: the call succeeded.
const None AuthError = ""

const (
	InvalidRequest AuthError = "invalid_request"
	InvalidClient  AuthError = "invalid_client"
	InvalidGrant   AuthError = "invalid_grant"
	InvalidScope   AuthError = "invalid_scope"
)

// URLType selects which (base_url, allow_insecure) pair
// NetworkRequestManager resolves a request's path against.
type URLType int

const (
	URLTypeOAuth2 URLType = iota
	URLTypeOAuth1
	URLTypeSitecheck
)

// String implements fmt.Stringer.
func (u URLType) String() string {
	switch u {
	case URLTypeOAuth2:
		return "oauth2"
	case URLTypeOAuth1:
		return "oauth1"
	case URLTypeSitecheck:
		return "sitecheck"
	default:
		return "unknown"
	}
}

// Request is the NetworkRequest trait: everything NetworkRequestManager
// needs to issue one HTTP call and interpret its response. Concrete kinds
// store their own typed result and expose it through kind-specific
// accessors once TryResponse has run.
type Request interface {
	// Path is resolved against the manager's base URL for URLType().
	Path() string
	// Method is the HTTP verb.
	Method() string
	// Body is the encoded request body, empty for GET requests.
	Body() string
	// ContentType is the request's Content-Type header, empty when Body
	// is empty.
	ContentType() string
	// ExtraHeaders are merged into the request, e.g. a signed
	// Authorization header for OAuth1 requests.
	ExtraHeaders() http.Header
	// QueryString is appended to the resolved URL, empty if none.
	QueryString() string
	// URLType selects the manager's base URL + security policy.
	URLType() URLType
	// TryResponse interprets one completed HTTP round trip and records
	// whatever the concrete kind needs for its typed result accessor.
	TryResponse(statusCode int, body []byte) Status
}
