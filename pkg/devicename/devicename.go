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

// Package devicename implements DeviceNameService: current vs
// last-reported device name, encrypted at rest.
package devicename

import (
	"github.com/rs/zerolog/log"

	"github.com/traefik/hub-identity-core/internal/cryptoops"
	"github.com/traefik/hub-identity-core/internal/prefstore"
)

const prefKey = "opera.oauth2.last_device_name"

// Service is DeviceNameService.
type Service struct {
	prefs       prefstore.Store
	ops         cryptoops.Ops
	currentName func() string
}

// New returns a Service reporting currentName() as the device's present
// name.
func New(prefs prefstore.Store, ops cryptoops.Ops, currentName func() string) *Service {
	return &Service{prefs: prefs, ops: ops, currentName: currentName}
}

// HasChanged reports whether the current device name differs from the
// last one successfully reported to the server.
func (s *Service) HasChanged() bool {
	return s.currentName() != s.lastReported()
}

// CurrentName returns the device's present name, for callers that need to
// put it on the wire once HasChanged reports true.
func (s *Service) CurrentName() string {
	return s.currentName()
}

// Store records the current device name as the last-reported one, called
// after a successful access-token request that carried device_name.
func (s *Service) Store() {
	encrypted, err := s.ops.OSEncrypt(s.currentName())
	if err != nil {
		log.Error().Err(err).Msg("Unable to encrypt device name")
		return
	}
	s.prefs.SetString(prefKey, encrypted)
	s.prefs.CommitPendingWrites()
}

// ClearLastSent drops the last-reported name, used on end_session so the
// next login always reports its device name at least once.
func (s *Service) ClearLastSent() {
	s.prefs.SetString(prefKey, "")
	s.prefs.CommitPendingWrites()
}

func (s *Service) lastReported() string {
	encrypted := s.prefs.GetString(prefKey)
	if encrypted == "" {
		return ""
	}
	name, err := s.ops.OSDecrypt(encrypted)
	if err != nil {
		return ""
	}
	return name
}
