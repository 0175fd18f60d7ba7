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

package fraud

import (
	"crypto/md5" //nolint:gosec // the sitecheck wire protocol mandates this digest, not a security boundary
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/traefik/hub-identity-core/internal/clock"
	"github.com/traefik/hub-identity-core/pkg/netmanager"
	"github.com/traefik/hub-identity-core/pkg/netrequest"
)

// hdnSalt is appended to the hostname before hashing, per the sitecheck
// wire protocol.
const hdnSalt = "-Oscar0308"

func hdnFor(hostname string) string {
	sum := md5.Sum([]byte(hostname + hdnSalt)) //nolint:gosec
	return base64.StdEncoding.EncodeToString(sum[:])
}

// RatingState is FraudRatedServer's lifecycle.
type RatingState int

const (
	Unrated RatingState = iota
	RatingInProgress
	Rated
)

func (s RatingState) String() string {
	switch s {
	case Unrated:
		return "UNRATED"
	case RatingInProgress:
		return "RATING_IN_PROGRESS"
	case Rated:
		return "RATED"
	default:
		return "UNKNOWN"
	}
}

// defaultTTL is used when a sitecheck response omits <ce>.
const defaultTTL = 10 * time.Minute

// checkRequest is the sitecheck HTTP request for one hostname. Unlike the
// OAuth2 request kinds, any HTTP response it receives is a terminal
// outcome: a non-200 status or an unparseable body is a rating failure,
// not something NetworkRequestManager should retry forever.
type checkRequest struct {
	hostname string

	failed   bool
	response sitecheckResponse
}

func newCheckRequest(hostname string) *checkRequest {
	return &checkRequest{hostname: hostname}
}

func (r *checkRequest) Path() string               { return "/" }
func (r *checkRequest) Method() string              { return http.MethodGet }
func (r *checkRequest) Body() string                { return "" }
func (r *checkRequest) ContentType() string         { return "" }
func (r *checkRequest) ExtraHeaders() http.Header    { return nil }
func (r *checkRequest) URLType() netrequest.URLType  { return netrequest.URLTypeSitecheck }

func (r *checkRequest) QueryString() string {
	v := url.Values{}
	v.Set("host", r.hostname)
	v.Set("hdn", hdnFor(r.hostname))
	return v.Encode()
}

func (r *checkRequest) TryResponse(statusCode int, body []byte) netrequest.Status {
	if statusCode != http.StatusOK {
		r.failed = true
		return netrequest.StatusOK
	}

	resp, err := parseSitecheckXML(body)
	if err != nil {
		r.failed = true
		return netrequest.StatusOK
	}

	r.response = resp
	return netrequest.StatusOK
}

// UrlRating is FraudUrlRating: the verdict for one URL.
type UrlRating struct { //nolint:revive // name matches the domain term this protocol uses
	Type           AdvisoryType
	DisplayText    string
	InfoURL        string
	Homepage       string
	LogoURL        string
	ServerBypassed bool
}

// RatedServer is FraudRatedServer: it fetches, caches, and serves the
// advisories for one rated hostname; logoHost is shared by all of them.
type RatedServer struct {
	manager  *netmanager.Manager
	clock    clock.Clock
	logoHost string
	bypassed bool

	state      RatingState
	advisories []Advisory
	expireTime time.Time
	pending    *checkRequest

	onRated func()
}

// NewRatedServer returns a RatedServer that fetches advisories through
// manager and reports logo URLs rooted at logoHost.
func NewRatedServer(manager *netmanager.Manager, c clock.Clock, logoHost string) *RatedServer {
	return &RatedServer{manager: manager, clock: c, logoHost: logoHost}
}

// OnRated registers a callback fired once a pending rating request
// completes, successfully or not.
func (s *RatedServer) OnRated(fn func()) { s.onRated = fn }

// State reports the server's current lifecycle state.
func (s *RatedServer) State() RatingState { return s.state }

// Bypass marks this server's ratings as user-bypassed: ratings it already
// holds or will fetch are reported with ServerBypassed set and never
// treated as expired.
func (s *RatedServer) Bypass() { s.bypassed = true }

// EnsureRated kicks off a fetch if the server is UNRATED or its cached
// advisories have expired; a RATING_IN_PROGRESS or freshly RATED server is
// left alone.
func (s *RatedServer) EnsureRated(hostname string) {
	if s.state == RatingInProgress {
		return
	}
	if s.state == Rated && !s.expired() {
		return
	}

	s.state = RatingInProgress
	s.pending = newCheckRequest(hostname)
	s.manager.StartRequest(s.pending, s)
}

func (s *RatedServer) expired() bool {
	if s.bypassed {
		return false
	}
	return s.expireTime.Before(s.clock.Now())
}

// Alive implements netmanager.Consumer. RatedServer is owned for the
// lifetime of the protection service that created it, so it is always
// live while registered as a consumer.
func (s *RatedServer) Alive() bool { return true }

// OnNetworkRequestFinished implements netmanager.Consumer.
func (s *RatedServer) OnNetworkRequestFinished(req netrequest.Request, status netrequest.Status) {
	cr, ok := req.(*checkRequest)
	if !ok || cr != s.pending {
		return
	}
	s.pending = nil

	if status != netrequest.StatusOK || cr.failed {
		s.state = Unrated
		if s.onRated != nil {
			s.onRated()
		}
		return
	}

	s.advisories = buildAdvisories(cr.response)
	ttl := defaultTTL
	if cr.response.TTLSeconds > 0 {
		ttl = time.Duration(cr.response.TTLSeconds) * time.Second
	}
	s.expireTime = s.clock.Now().Add(ttl)
	s.state = Rated

	if s.onRated != nil {
		s.onRated()
	}
}

// GetRatingForURL returns the first advisory matching urlSpec, in
// ascending advisory-id order, or false if none match or the server isn't
// RATED yet.
func (s *RatedServer) GetRatingForURL(urlSpec string) (UrlRating, bool) {
	if s.state != Rated {
		return UrlRating{}, false
	}

	for _, adv := range s.advisories {
		if !adv.Valid() || !adv.Matches(urlSpec) {
			continue
		}
		return UrlRating{
			Type:           adv.Type,
			DisplayText:    adv.DisplayText,
			InfoURL:        adv.InfoURL,
			Homepage:       adv.Homepage,
			LogoURL:        LogoURL(s.logoHost, adv.ID),
			ServerBypassed: s.bypassed,
		}, true
	}
	return UrlRating{}, false
}

func buildAdvisories(resp sitecheckResponse) []Advisory {
	advisories := make([]Advisory, 0, len(resp.Sources))
	for _, src := range resp.Sources {
		adv := Advisory{
			ID:          src.ID,
			Type:        advisoryTypeFromWire(src.Type),
			DisplayText: src.Text,
			InfoURL:     src.Advisory,
			Homepage:    src.Homepage,
		}
		for _, p := range resp.Prefixes {
			if p.Src == src.ID {
				adv.Detectors = append(adv.Detectors, HostPrefixDetector{Template: p.Text})
			}
		}
		for _, r := range resp.Regexes {
			if r.Src != src.ID {
				continue
			}
			det, err := NewRegexDetector(r.Text)
			if err != nil {
				continue
			}
			adv.Detectors = append(adv.Detectors, det)
		}
		if adv.Valid() {
			advisories = append(advisories, adv)
		}
	}
	sort.Slice(advisories, func(i, j int) bool { return advisories[i].ID < advisories[j].ID })
	return advisories
}

func advisoryTypeFromWire(n int) AdvisoryType {
	switch n {
	case 1:
		return Phishing
	case 2:
		return Malware
	default:
		return Unknown
	}
}
