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

// Package fraud implements the URL fraud-rating engine: FraudAdvisory,
// its detectors, FraudRatedServer, and FraudProtectionService.
package fraud

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// AdvisoryType is the kind of intelligence one FraudAdvisory carries.
type AdvisoryType int

const (
	Unknown AdvisoryType = iota
	Phishing
	Malware
)

// Detector is a predicate on a URL: either a case-insensitive host-prefix
// match or a case-insensitive leading regex match.
type Detector interface {
	Matches(urlSpec string) bool
}

// HostPrefixDetector matches urlSpec (sans userinfo) case-insensitively
// against template, treating a trailing "/" in template as optional.
type HostPrefixDetector struct {
	Template string
}

// Matches implements Detector.
func (d HostPrefixDetector) Matches(urlSpec string) bool {
	lowerURL := strings.ToLower(clearUserinfo(urlSpec))
	lowerTemplate := strings.ToLower(d.Template)

	if strings.HasPrefix(lowerURL, lowerTemplate) {
		return true
	}
	if strings.HasSuffix(lowerTemplate, "/") {
		return strings.HasPrefix(lowerURL, strings.TrimSuffix(lowerTemplate, "/"))
	}
	return false
}

// clearUserinfo strips any "user:pass@" component from urlSpec, the way
// the original clears username/password before matching a host-prefix
// template, so embedded credentials can't be used to dodge the match.
// urlSpec is returned unchanged if it does not parse or carries no
// userinfo.
func clearUserinfo(urlSpec string) string {
	u, err := url.Parse(urlSpec)
	if err != nil || u.User == nil {
		return urlSpec
	}
	u.User = nil
	return u.String()
}

// RegexDetector matches urlSpec against a case-insensitive "lookingAt"
// (anchored-at-start) regex.
type RegexDetector struct {
	re *regexp.Regexp
}

// NewRegexDetector compiles pattern as a case-insensitive, start-anchored
// regex.
func NewRegexDetector(pattern string) (RegexDetector, error) {
	re, err := regexp.Compile(`(?i)\A(?:` + pattern + `)`)
	if err != nil {
		return RegexDetector{}, err
	}
	return RegexDetector{re: re}, nil
}

// Matches implements Detector.
func (d RegexDetector) Matches(urlSpec string) bool {
	loc := d.re.FindStringIndex(urlSpec)
	return loc != nil && loc[0] == 0
}

// Advisory is one declared piece of fraud intelligence.
type Advisory struct {
	ID          int
	Type        AdvisoryType
	DisplayText string
	InfoURL     string
	Homepage    string
	Detectors   []Detector
}

// Valid reports whether the advisory has at least one detector and a
// known type.
func (a Advisory) Valid() bool {
	return len(a.Detectors) > 0 && a.Type != Unknown
}

// Matches reports whether any detector fires for urlSpec.
func (a Advisory) Matches(urlSpec string) bool {
	for _, d := range a.Detectors {
		if d.Matches(urlSpec) {
			return true
		}
	}
	return false
}

// LogoURL is the advisory's logo, computed from its host and id.
func LogoURL(host string, id int) string {
	return "http://" + host + "/img/logo-" + strconv.Itoa(id) + ".jpg"
}
