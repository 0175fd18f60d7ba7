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

// Package throttle implements RequestThrottler: per-key exponential backoff
// driven by a monotonic, injectable clock.
package throttle

import (
	"math"
	"math/rand"
	"time"

	"github.com/traefik/hub-identity-core/internal/clock"
)

const (
	initialDelay  = time.Second
	multiplier    = 2.0
	maxDelay      = 5 * time.Minute
	prodJitterPct = 0.33
)

// entry is a per-key exponential backoff bookkeeper. The field names and
// the growth rule mirror the reference BackoffEntry this package is
// grounded on: "initial delay unless last was error" == true (errorCount
// starts at 0 and InformOfRequest(false) always grows it), no discard
// timeout, 0% fuzzing by default (tests), prodJitterPct in production.
type entry struct {
	errorCount  int
	releaseTime time.Time
}

// Throttler hands out exponential-backoff delays per request key.
type Throttler struct {
	clock   clock.Clock
	jitter  bool
	entries map[string]*entry
}

// New returns a Throttler using c as its clock. jitter enables the
// production 33% fuzzing; tests should pass false for deterministic
// delays.
func New(c clock.Clock, jitter bool) *Throttler {
	return &Throttler{
		clock:   c,
		jitter:  jitter,
		entries: make(map[string]*entry),
	}
}

// GetAndUpdate returns the current delay for key and grows the backoff for
// the next call with the same key. If no backoff is currently in effect
// (first call, or the previous release time has passed), the entry is
// reset and a zero delay is returned; "informing of a request" still
// happens afterwards so the very next call starts backing off.
func (t *Throttler) GetAndUpdate(key string) time.Duration {
	e, ok := t.entries[key]
	if !ok {
		e = &entry{}
		t.entries[key] = e
	}

	now := t.clock.Now()
	var delay time.Duration
	if e.releaseTime.After(now) {
		delay = e.releaseTime.Sub(now)
	} else {
		e.errorCount = 0
	}

	t.informOfRequest(e, now)

	return delay
}

// Reset clears every tracked key, used by AuthService when a session ends.
func (t *Throttler) Reset() {
	t.entries = make(map[string]*entry)
}

func (t *Throttler) informOfRequest(e *entry, now time.Time) {
	e.errorCount++
	d := computeDelay(e.errorCount, t.jitter)
	e.releaseTime = now.Add(d)
}

func computeDelay(errorCount int, jitter bool) time.Duration {
	d := float64(initialDelay) * math.Pow(multiplier, float64(errorCount-1))
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	if jitter {
		// Spread requests randomly between (1-prodJitterPct) and 100% of
		// the calculated delay.
		d = d * (1 - prodJitterPct + rand.Float64()*prodJitterPct)
	}
	return time.Duration(d)
}
