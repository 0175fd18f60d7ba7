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

// Package clock provides an injectable monotonic clock so that backoff and
// TTL logic can be driven deterministically in tests, per the single-threaded
// cooperative scheduling model the rest of this module assumes.
package clock

import "time"

// Timer is a cancellable delayed callback, as returned by AfterFunc.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so production code uses wall time and tests can
// fast-forward without sleeping.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is a Clock backed by the standard library.
type Real struct{}

// NewReal returns a Clock backed by the standard library.
func NewReal() Real { return Real{} }

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc schedules f to run after d using time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
