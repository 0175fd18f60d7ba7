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
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/traefik/hub-identity-core/internal/clock"
	"github.com/traefik/hub-identity-core/pkg/netmanager"
)

// kServerListMaxSize bounds how many per-host RatedServer entries the
// service keeps around at once.
const kServerListMaxSize = 512

const (
	initialFailureGrace = 4 * time.Minute
	maxFailureGrace     = 64 * time.Minute
	cleanupMinInterval  = 60 * time.Minute
)

type pendingLookup struct {
	urlSpec  string
	callback func(UrlRating, bool)
}

type hostEntry struct {
	server           *RatedServer
	failureGrace     time.Duration
	nextAllowedCheck time.Time
	pending          []pendingLookup
}

// ProtectionService is FraudProtectionService: the entry point browsing
// code calls to learn whether a URL is a known phishing or malware site.
type ProtectionService struct {
	manager  *netmanager.Manager
	clock    clock.Clock
	logoHost string

	hosts       map[string]*hostEntry
	lastCleanup time.Time
}

// NewProtectionService returns a ProtectionService fetching advisories
// through manager and labelling logos with logoHost.
func NewProtectionService(manager *netmanager.Manager, c clock.Clock, logoHost string) *ProtectionService {
	return &ProtectionService{
		manager:  manager,
		clock:    c,
		logoHost: logoHost,
		hosts:    make(map[string]*hostEntry),
	}
}

// GetURLRating reports the fraud rating for urlSpec. callback is invoked
// exactly once: synchronously with no rating if urlSpec's scheme isn't
// one of http/https/ftp, its host is non-unique (intranet name or
// literal private/loopback IP), or the caller-supplied ip is itself on a
// private network; otherwise synchronously if a cached, unexpired rating
// already covers the host, or once the pending sitecheck request
// completes (or is deferred because the host is in its failure grace
// period, in which case callback fires synchronously with no rating).
func (s *ProtectionService) GetURLRating(urlSpec string, ip net.IP, callback func(rating UrlRating, ok bool)) {
	scheme, host := schemeAndHostOf(urlSpec)
	if host == "" {
		callback(UrlRating{}, false)
		return
	}

	if !allowedFraudCheckScheme(scheme) || isHostnameNonUnique(host) {
		callback(UrlRating{}, false)
		return
	}

	if isPrivateNetwork(ip) {
		callback(UrlRating{}, false)
		return
	}

	s.maybeCleanup()

	entry := s.entryFor(host)

	if entry.server.State() == Rated && !entry.expired() {
		rating, ok := entry.server.GetRatingForURL(urlSpec)
		callback(rating, ok)
		return
	}

	if entry.server.State() == RatingInProgress {
		entry.pending = append(entry.pending, pendingLookup{urlSpec: urlSpec, callback: callback})
		return
	}

	if s.clock.Now().Before(entry.nextAllowedCheck) {
		callback(UrlRating{}, false)
		return
	}

	entry.pending = append(entry.pending, pendingLookup{urlSpec: urlSpec, callback: callback})
	entry.server.EnsureRated(host)
}

// HostCount reports how many per-host entries the service currently
// tracks. Exposed for tests and diagnostics; not part of the browsing
// contract.
func (s *ProtectionService) HostCount() int { return len(s.hosts) }

// Name identifies this service as a diagnostics.Supplier.
func (s *ProtectionService) Name() string {
	return "fraud_protection"
}

// DiagnosticFields reports the tracked host count, structurally
// satisfying diagnostics.Supplier without this package importing it.
func (s *ProtectionService) DiagnosticFields() map[string]string {
	return map[string]string{
		"host_count": strconv.Itoa(len(s.hosts)),
	}
}

// BypassURLRating marks urlSpec's host as user-bypassed: future lookups
// against it report ServerBypassed and never expire.
func (s *ProtectionService) BypassURLRating(urlSpec string) {
	host := hostOf(urlSpec)
	if host == "" {
		return
	}
	s.entryFor(host).server.Bypass()
}

func (e *hostEntry) expired() bool {
	return e.server.expired()
}

func (s *ProtectionService) entryFor(host string) *hostEntry {
	if e, ok := s.hosts[host]; ok {
		return e
	}

	server := NewRatedServer(s.manager, s.clock, s.logoHost)
	e := &hostEntry{server: server}
	server.OnRated(func() { s.onHostRated(e) })
	s.hosts[host] = e
	return e
}

func (s *ProtectionService) onHostRated(e *hostEntry) {
	if e.server.State() == Rated {
		e.failureGrace = 0
		e.nextAllowedCheck = time.Time{}
	} else {
		if e.failureGrace == 0 {
			e.failureGrace = initialFailureGrace
		} else if e.failureGrace < maxFailureGrace {
			e.failureGrace *= 2
			if e.failureGrace > maxFailureGrace {
				e.failureGrace = maxFailureGrace
			}
		}
		e.nextAllowedCheck = s.clock.Now().Add(e.failureGrace)
	}

	pending := e.pending
	e.pending = nil
	for _, p := range pending {
		rating, ok := e.server.GetRatingForURL(p.urlSpec)
		p.callback(rating, ok)
	}
}

// maybeCleanup prunes expired, no-pending-lookup entries out of the host
// table once it exceeds kServerListMaxSize, at most once every
// cleanupMinInterval. A table that is still over the cap after a pass
// (because nothing was expired, or every entry had a pending lookup) is
// left as-is; cleanup does not reschedule itself to try again sooner.
func (s *ProtectionService) maybeCleanup() {
	if len(s.hosts) <= kServerListMaxSize {
		return
	}
	if !s.lastCleanup.IsZero() && s.clock.Now().Sub(s.lastCleanup) < cleanupMinInterval {
		return
	}
	s.lastCleanup = s.clock.Now()

	for host, e := range s.hosts {
		if len(e.pending) == 0 && e.expired() {
			delete(s.hosts, host)
		}
	}

	log.Debug().Int("remaining", len(s.hosts)).Msg("Pruned fraud rating server list")
}

func hostOf(urlSpec string) string {
	_, host := schemeAndHostOf(urlSpec)
	return host
}

// schemeAndHostOf parses urlSpec and returns its scheme and hostname, or
// ("", "") if it does not parse.
func schemeAndHostOf(urlSpec string) (scheme, host string) {
	u, err := url.Parse(urlSpec)
	if err != nil {
		return "", ""
	}
	return u.Scheme, u.Hostname()
}
