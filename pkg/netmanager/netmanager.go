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

// Package netmanager implements NetworkRequestManager: schedules
// NetworkRequest values, applies per-request backoff, honors
// Retry-After, blocks insecure schemes, and treats redirects as terminal.
package netmanager

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/traefik/hub-identity-core/internal/clock"
	"github.com/traefik/hub-identity-core/internal/httpdoer"
	"github.com/traefik/hub-identity-core/pkg/netrequest"
	"github.com/traefik/hub-identity-core/pkg/throttle"
)

// URLConfig is one entry of the url_type → (base_url, allow_insecure) map
// the manager is configured with.
type URLConfig struct {
	BaseURL       string
	AllowInsecure bool
}

// Consumer receives the terminal outcome of a request. Alive reports
// whether the consumer is still around to be notified, standing in for
// the original weak-reference semantics: a dead consumer's response is
// logged and discarded instead of delivered.
type Consumer interface {
	OnNetworkRequestFinished(req netrequest.Request, status netrequest.Status)
	Alive() bool
}

type ongoingRequest struct {
	id       int
	req      netrequest.Request
	consumer Consumer
	attempts int
	timer    clock.Timer
}

// Manager is NetworkRequestManager.
type Manager struct {
	urls        map[netrequest.URLType]URLConfig
	doer        httpdoer.Doer
	clock       clock.Clock
	backoffKeys *throttle.Throttler
	log         zerolog.Logger

	nextID  int
	ongoing map[int]*ongoingRequest
}

// New returns a Manager resolving requests against urls and issuing them
// through doer.
func New(urls map[netrequest.URLType]URLConfig, doer httpdoer.Doer, c clock.Clock) *Manager {
	return &Manager{
		urls:        urls,
		doer:        doer,
		clock:       c,
		backoffKeys: throttle.New(c, false),
		log:         log.Logger.With().Str("component", "network_request_manager").Logger(),
		ongoing:     make(map[int]*ongoingRequest),
	}
}

// StartRequest enqueues req with an initial delay of zero.
func (m *Manager) StartRequest(req netrequest.Request, consumer Consumer) {
	m.nextID++
	o := &ongoingRequest{id: m.nextID, req: req, consumer: consumer}
	m.ongoing[o.id] = o
	m.scheduleAfter(o, 0)
}

// CancelAllRequests drops every tracked record immediately; no further
// attempts or callbacks occur for them.
func (m *Manager) CancelAllRequests() {
	for id, o := range m.ongoing {
		if o.timer != nil {
			o.timer.Stop()
		}
		delete(m.ongoing, id)
	}
}

func (m *Manager) scheduleAfter(o *ongoingRequest, delay time.Duration) {
	if delay <= 0 {
		m.attempt(o)
		return
	}
	o.timer = m.clock.AfterFunc(delay, func() {
		m.attempt(o)
	})
}

func (m *Manager) backoffKey(o *ongoingRequest) string {
	return fmt.Sprintf("req-%d", o.id)
}

func (m *Manager) attempt(o *ongoingRequest) {
	if _, tracked := m.ongoing[o.id]; !tracked {
		return
	}
	o.attempts++

	resolved, err := m.resolveURL(o.req)
	if err != nil {
		m.finish(o, netrequest.StatusHTTPProblem)
		return
	}

	if resolved.Scheme != "https" && !m.urls[o.req.URLType()].AllowInsecure {
		m.deliverTerminal(o, netrequest.StatusInsecureConnectionForbidden)
		return
	}

	header := o.req.ExtraHeaders().Clone()
	if header == nil {
		header = make(map[string][]string)
	}
	var body []byte
	if b := o.req.Body(); b != "" {
		body = []byte(b)
		if ct := o.req.ContentType(); ct != "" {
			header.Set("Content-Type", ct)
		}
	}

	resp, err := m.doer.Do(context.Background(), o.req.Method(), resolved.String(), header, body)
	if err != nil {
		m.log.Debug().Err(err).Int("attempt", o.attempts).Msg("Network request transport failure")
		m.backoffAndRetry(o)
		return
	}

	if resp.StatusCode == 429 {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if secs, parseErr := strconv.Atoi(strings.TrimSpace(retryAfter)); parseErr == nil {
				m.scheduleAfter(o, time.Duration(secs)*time.Second)
				return
			}
		}
		m.backoffAndRetry(o)
		return
	}

	status := o.req.TryResponse(resp.StatusCode, resp.Body)
	switch status {
	case netrequest.StatusOK:
		m.finish(o, netrequest.StatusOK)
	case netrequest.StatusHTTPProblem, netrequest.StatusParseProblem:
		m.backoffAndRetry(o)
	case netrequest.StatusThrottled:
		m.backoffAndRetry(o)
	default:
		m.deliverTerminal(o, status)
	}
}

func (m *Manager) backoffAndRetry(o *ongoingRequest) {
	delay := m.backoffKeys.GetAndUpdate(m.backoffKey(o))
	if delay == 0 {
		delay = time.Second
	}
	m.scheduleAfter(o, delay)
}

func (m *Manager) finish(o *ongoingRequest, status netrequest.Status) {
	delete(m.ongoing, o.id)
	m.deliverToConsumer(o, status)
}

func (m *Manager) deliverTerminal(o *ongoingRequest, status netrequest.Status) {
	delete(m.ongoing, o.id)
	m.deliverToConsumer(o, status)
}

func (m *Manager) deliverToConsumer(o *ongoingRequest, status netrequest.Status) {
	if !o.consumer.Alive() {
		m.log.Info().Stringer("status", status).Msg("Discarding response for a consumer that is gone")
		return
	}
	o.consumer.OnNetworkRequestFinished(o.req, status)
}

func (m *Manager) resolveURL(req netrequest.Request) (*url.URL, error) {
	cfg, ok := m.urls[req.URLType()]
	if !ok {
		return nil, fmt.Errorf("no base URL configured for url_type %s", req.URLType())
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	resolved := base.ResolveReference(&url.URL{Path: req.Path()})
	if qs := req.QueryString(); qs != "" {
		resolved.RawQuery = qs
	}
	return resolved, nil
}
