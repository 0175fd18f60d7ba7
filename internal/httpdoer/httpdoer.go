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

// Package httpdoer provides the HttpClient trait: one HTTP round trip
// yielding (status, headers, body), with no retrying, no redirect
// following, and no auto backoff of its own — NetworkRequestManager owns
// every scheduling decision.
package httpdoer

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/traefik/hub-identity-core/pkg/logger"
)

// Response is one completed HTTP round trip.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Doer issues one HTTP request and returns its raw response. Implementations
// must not retry or follow redirects: NetworkRequestManager surfaces a 3xx
// as a terminal response and schedules its own backoff on failure.
type Doer interface {
	Do(ctx context.Context, method, url string, header http.Header, body []byte) (Response, error)
}

// Client is the default Doer, built on retryablehttp for its connection
// reuse and logging idiom but configured with RetryMax=0 and
// CheckRedirect stopping at the first redirect.
type Client struct {
	http *http.Client
}

// New returns a Client logging transport activity through l.
func New(l zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = logger.NewRetryableHTTPWrapper(l.With().Str("component", "identity_http_client").Logger())

	std := rc.StandardClient()
	std.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{http: std}
}

// NewDefault returns a Client logging through the global zerolog logger.
func NewDefault() *Client {
	return New(log.Logger)
}

// Do implements Doer.
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body []byte) (Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return Response{}, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}

	return Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}
