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

// Package diagnostics implements DiagnosticService: a ring buffer of
// combined snapshots gathered from every registered DiagnosticSupplier,
// deduplicating consecutive identical states the way a heartbeat only
// logs a change, not every tick.
package diagnostics

import (
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Supplier is DiagnosticSupplier: anything that can describe its own
// state as a flat set of string fields, cheaply and without side effects.
type Supplier interface {
	Name() string
	DiagnosticFields() map[string]string
}

// Snapshot is one combined reading across every registered supplier,
// namespaced by supplier name to avoid field collisions.
type Snapshot struct {
	Fields map[string]string
}

// Equal reports whether two snapshots carry identical fields.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range s.Fields {
		if other.Fields[k] != v {
			return false
		}
	}
	return true
}

// encode renders the snapshot deterministically for the debug log line
// TakeSnapshot writes; duplicate detection uses Equal instead.
func (s Snapshot) encode() string {
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Fields[k])
	}
	return b.String()
}

// Service is DiagnosticService: it asks every registered Supplier for its
// fields on demand and keeps the last ringSize distinct combined readings.
type Service struct {
	suppliers []Supplier
	ringSize  int
	history   []Snapshot
}

// New returns a Service tracking up to ringSize distinct snapshots across
// suppliers. A non-positive ringSize is treated as 1.
func New(ringSize int, suppliers ...Supplier) *Service {
	if ringSize <= 0 {
		ringSize = 1
	}
	return &Service{suppliers: suppliers, ringSize: ringSize}
}

// Register adds a supplier, picked up by every subsequent TakeSnapshot.
func (s *Service) Register(supplier Supplier) {
	s.suppliers = append(s.suppliers, supplier)
}

// TakeSnapshot gathers every supplier's current fields into one combined
// Snapshot. If it is identical to the most recently recorded one, no new
// ring-buffer entry is appended — two back-to-back calls against
// unchanged state always yield exactly one stored snapshot.
func (s *Service) TakeSnapshot() Snapshot {
	combined := Snapshot{Fields: make(map[string]string)}
	for _, supplier := range s.suppliers {
		for k, v := range supplier.DiagnosticFields() {
			combined.Fields[supplier.Name()+"."+k] = v
		}
	}

	if len(s.history) > 0 && s.history[len(s.history)-1].Equal(combined) {
		return combined
	}

	s.history = append(s.history, combined)
	if len(s.history) > s.ringSize {
		s.history = s.history[len(s.history)-s.ringSize:]
	}

	log.Debug().Str("snapshot", combined.encode()).Msg("Recorded diagnostic snapshot")
	return combined
}

// History returns every distinct snapshot currently retained, oldest
// first.
func (s *Service) History() []Snapshot {
	out := make([]Snapshot, len(s.history))
	copy(out, s.history)
	return out
}
