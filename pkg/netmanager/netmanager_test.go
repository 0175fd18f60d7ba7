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

package netmanager_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traefik/hub-identity-core/internal/clock"
	"github.com/traefik/hub-identity-core/internal/httpdoer"
	"github.com/traefik/hub-identity-core/pkg/netmanager"
	"github.com/traefik/hub-identity-core/pkg/netrequest"
	"github.com/traefik/hub-identity-core/pkg/scopeset"
)

type fakeConsumer struct {
	alive    bool
	finishes []netrequest.Status
}

func (f *fakeConsumer) OnNetworkRequestFinished(_ netrequest.Request, status netrequest.Status) {
	f.finishes = append(f.finishes, status)
}

func (f *fakeConsumer) Alive() bool { return f.alive }

func Test_InsecureSchemeIsRejectedImmediately(t *testing.T) {
	doer := &httpdoer.Fake{}
	c := clock.NewFake(time.Unix(0, 0))
	urls := map[netrequest.URLType]netmanager.URLConfig{
		netrequest.URLTypeOAuth2: {BaseURL: "http://auth.example.com", AllowInsecure: false},
	}
	m := netmanager.New(urls, doer, c)

	req := netrequest.NewAuthTokenGrant("mock-client-id", "mock-auth-token", scopeset.New("ALL"), "", "")
	consumer := &fakeConsumer{alive: true}
	m.StartRequest(req, consumer)

	require.Len(t, consumer.finishes, 1)
	assert.Equal(t, netrequest.StatusInsecureConnectionForbidden, consumer.finishes[0])
	assert.Empty(t, doer.Calls, "no HTTP call should be issued")
}

func Test_SuccessfulResponseDeliversOK(t *testing.T) {
	doer := &httpdoer.Fake{
		Responses: []httpdoer.Response{
			{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(`{"access_token":"mock-access-token","refresh_token":"mock-refresh-token","token_type":"Bearer","expires_in":3601,"user_id":"12348"}`)},
		},
	}
	c := clock.NewFake(time.Unix(0, 0))
	urls := map[netrequest.URLType]netmanager.URLConfig{
		netrequest.URLTypeOAuth2: {BaseURL: "https://auth.example.com", AllowInsecure: false},
	}
	m := netmanager.New(urls, doer, c)

	req := netrequest.NewAuthTokenGrant("mock-client-id", "mock-auth-token", scopeset.New("ALL"), "", "")
	consumer := &fakeConsumer{alive: true}
	m.StartRequest(req, consumer)

	require.Len(t, consumer.finishes, 1)
	assert.Equal(t, netrequest.StatusOK, consumer.finishes[0])
	require.Len(t, doer.Calls, 1)
	assert.Equal(t, "https://auth.example.com/oauth2/v1/token/", doer.Calls[0].URL)
}

func Test_ThrottledWithRetryAfterReschedulesAtThatDelay(t *testing.T) {
	doer := &httpdoer.Fake{
		Responses: []httpdoer.Response{
			{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"3600"}}},
			{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(`{"access_token":"t","refresh_token":"r","token_type":"Bearer","expires_in":60,"user_id":"1"}`)},
		},
	}
	c := clock.NewFake(time.Unix(0, 0))
	urls := map[netrequest.URLType]netmanager.URLConfig{
		netrequest.URLTypeOAuth2: {BaseURL: "https://auth.example.com", AllowInsecure: false},
	}
	m := netmanager.New(urls, doer, c)

	req := netrequest.NewAuthTokenGrant("mock-client-id", "mock-auth-token", scopeset.New("ALL"), "", "")
	consumer := &fakeConsumer{alive: true}
	m.StartRequest(req, consumer)

	require.Empty(t, consumer.finishes, "throttled response must not notify the consumer yet")

	c.FastForward(59 * time.Minute)
	require.Len(t, doer.Calls, 1, "the retry must not fire before the Retry-After delay elapses")

	c.FastForward(2 * time.Minute)
	require.Len(t, doer.Calls, 2)
	require.Len(t, consumer.finishes, 1)
	assert.Equal(t, netrequest.StatusOK, consumer.finishes[0])
}

func Test_HTTPProblemBacksOffAndRetries(t *testing.T) {
	doer := &httpdoer.Fake{
		Responses: []httpdoer.Response{
			{StatusCode: http.StatusInternalServerError},
			{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(`{"access_token":"t","refresh_token":"r","token_type":"Bearer","expires_in":60,"user_id":"1"}`)},
		},
	}
	c := clock.NewFake(time.Unix(0, 0))
	urls := map[netrequest.URLType]netmanager.URLConfig{
		netrequest.URLTypeOAuth2: {BaseURL: "https://auth.example.com", AllowInsecure: false},
	}
	m := netmanager.New(urls, doer, c)

	req := netrequest.NewAuthTokenGrant("mock-client-id", "mock-auth-token", scopeset.New("ALL"), "", "")
	consumer := &fakeConsumer{alive: true}
	m.StartRequest(req, consumer)

	require.Len(t, doer.Calls, 1)
	require.Empty(t, consumer.finishes)

	c.FastForward(time.Minute)
	require.Len(t, doer.Calls, 2)
	require.Len(t, consumer.finishes, 1)
}

func Test_CancelAllRequestsPreventsFurtherAttempts(t *testing.T) {
	doer := &httpdoer.Fake{
		Responses: []httpdoer.Response{
			{StatusCode: http.StatusInternalServerError},
		},
	}
	c := clock.NewFake(time.Unix(0, 0))
	urls := map[netrequest.URLType]netmanager.URLConfig{
		netrequest.URLTypeOAuth2: {BaseURL: "https://auth.example.com", AllowInsecure: false},
	}
	m := netmanager.New(urls, doer, c)

	req := netrequest.NewAuthTokenGrant("mock-client-id", "mock-auth-token", scopeset.New("ALL"), "", "")
	consumer := &fakeConsumer{alive: true}
	m.StartRequest(req, consumer)
	require.Len(t, doer.Calls, 1)

	m.CancelAllRequests()

	c.FastForward(time.Hour)
	assert.Len(t, doer.Calls, 1, "a cancelled request's scheduled retry must be a no-op")
	assert.Empty(t, consumer.finishes)
}

func Test_DeadConsumerResponseIsDiscarded(t *testing.T) {
	doer := &httpdoer.Fake{
		Responses: []httpdoer.Response{
			{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(`{"access_token":"t","refresh_token":"r","token_type":"Bearer","expires_in":60,"user_id":"1"}`)},
		},
	}
	c := clock.NewFake(time.Unix(0, 0))
	urls := map[netrequest.URLType]netmanager.URLConfig{
		netrequest.URLTypeOAuth2: {BaseURL: "https://auth.example.com", AllowInsecure: false},
	}
	m := netmanager.New(urls, doer, c)

	req := netrequest.NewAuthTokenGrant("mock-client-id", "mock-auth-token", scopeset.New("ALL"), "", "")
	consumer := &fakeConsumer{alive: false}
	m.StartRequest(req, consumer)

	assert.Empty(t, consumer.finishes, "a gone consumer must not receive a delivery")
}
