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

package httpdoer

import (
	"context"
	"net/http"
)

// Call records one request observed by Fake.
type Call struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Fake is a scripted Doer for tests: each call to Do pops the next queued
// response (or error) and records the request it received.
type Fake struct {
	Responses []Response
	Errs      []error
	Calls     []Call
}

// Do implements Doer.
func (f *Fake) Do(_ context.Context, method, url string, header http.Header, body []byte) (Response, error) {
	i := len(f.Calls)
	f.Calls = append(f.Calls, Call{Method: method, URL: url, Header: header, Body: body})

	if i < len(f.Errs) && f.Errs[i] != nil {
		return Response{}, f.Errs[i]
	}
	if i < len(f.Responses) {
		return f.Responses[i], nil
	}
	return Response{StatusCode: http.StatusInternalServerError}, nil
}
