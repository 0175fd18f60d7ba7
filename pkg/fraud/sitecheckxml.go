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
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type sitecheckSource struct {
	ID       int    `xml:"id,attr"`
	Type     int    `xml:"type,attr"`
	Advisory string `xml:"advisory,attr"`
	Homepage string `xml:"homepage,attr"`
	Text     string `xml:",chardata"`
}

type sitecheckDetector struct {
	Src  int    `xml:"src,attr"`
	Text string `xml:",chardata"`
}

// sitecheckResponse is the decoded sitecheck XML document: a TTL, N
// sources (advisories), and N host-prefix/regex detectors each tied to a
// source by id. Its root element's tag name is irrelevant; child tag
// names are matched case-insensitively.
type sitecheckResponse struct {
	TTLSeconds int
	Sources    []sitecheckSource
	Prefixes   []sitecheckDetector
	Regexes    []sitecheckDetector
}

// UnmarshalXML implements xml.Unmarshaler.
func (r *sitecheckResponse) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := r.decodeChild(d, t); err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return nil
			}
		}
	}
}

func (r *sitecheckResponse) decodeChild(d *xml.Decoder, start xml.StartElement) error {
	switch strings.ToLower(start.Name.Local) {
	case "ce":
		var text string
		if err := d.DecodeElement(&text, &start); err != nil {
			return err
		}
		ttl, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("decode <ce> ttl: %w", err)
		}
		r.TTLSeconds = ttl
	case "source":
		var s sitecheckSource
		if err := d.DecodeElement(&s, &start); err != nil {
			return err
		}
		r.Sources = append(r.Sources, s)
	case "u":
		var det sitecheckDetector
		if err := d.DecodeElement(&det, &start); err != nil {
			return err
		}
		r.Prefixes = append(r.Prefixes, det)
	case "r":
		var det sitecheckDetector
		if err := d.DecodeElement(&det, &start); err != nil {
			return err
		}
		r.Regexes = append(r.Regexes, det)
	default:
		return d.Skip()
	}
	return nil
}

func parseSitecheckXML(body []byte) (sitecheckResponse, error) {
	var resp sitecheckResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return sitecheckResponse{}, err
	}
	return resp, nil
}
