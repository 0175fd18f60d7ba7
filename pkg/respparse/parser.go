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

// Package respparse implements ResponseParser: a typed-field extractor for
// the JSON objects the identity-provider endpoints return, with required
// and optional extraction; every extractor is strict about the field type.
package respparse

import (
	"encoding/json"
	"fmt"
)

// Parser extracts typed fields out of a decoded JSON object.
type Parser struct {
	fields map[string]interface{}
}

// New decodes raw JSON into a Parser. An empty body decodes to an empty object.
func New(raw []byte) (*Parser, error) {
	fields := make(map[string]interface{})
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode json object: %w", err)
		}
	}
	return &Parser{fields: fields}, nil
}

// RequiredString returns the string field named key, erroring if it is
// absent or not a string.
func (p *Parser) RequiredString(key string) (string, error) {
	v, ok := p.fields[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", key)
	}
	if s == "" {
		return "", fmt.Errorf("required field %q is empty", key)
	}
	return s, nil
}

// OptionalString returns the string field named key, or "" if absent. It
// errors only if the field is present but not a string (soft mode would
// instead coerce; this parser is always strict about type, soft only about
// presence).
func (p *Parser) OptionalString(key string) (string, error) {
	v, ok := p.fields[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", key)
	}
	return s, nil
}

// RequiredPositiveInt returns the int field named key, erroring if absent,
// not a number, or not strictly positive (used for expires_in, and for
// err_code when that field is present).
func (p *Parser) RequiredPositiveInt(key string) (int, error) {
	v, ok := p.fields[key]
	if !ok {
		return 0, fmt.Errorf("missing required field %q", key)
	}
	n, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("field %q is not a number", key)
	}
	if n <= 0 {
		return 0, fmt.Errorf("field %q must be > 0, got %v", key, n)
	}
	return int(n), nil
}

// RequiredOneOf returns the string field named key, erroring unless its
// value is one of allowed. Used for the server's auth_error enum.
func (p *Parser) RequiredOneOf(key string, allowed ...string) (string, error) {
	s, err := p.RequiredString(key)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", fmt.Errorf("field %q has unexpected value %q, want one of %v", key, s, allowed)
}

// Has reports whether key is present in the decoded object.
func (p *Parser) Has(key string) bool {
	_, ok := p.fields[key]
	return ok
}
