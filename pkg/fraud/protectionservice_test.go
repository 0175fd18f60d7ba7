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

package fraud_test

import (
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traefik/hub-identity-core/internal/clock"
	"github.com/traefik/hub-identity-core/internal/httpdoer"
	"github.com/traefik/hub-identity-core/pkg/fraud"
	"github.com/traefik/hub-identity-core/pkg/netmanager"
	"github.com/traefik/hub-identity-core/pkg/netrequest"
)

func newProtectionService(t *testing.T, doer httpdoer.Doer) (*fraud.ProtectionService, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(time.Now())
	manager := netmanager.New(map[netrequest.URLType]netmanager.URLConfig{
		netrequest.URLTypeSitecheck: {BaseURL: "https://sitecheck2.opera.com"},
	}, doer, c)
	return fraud.NewProtectionService(manager, c, "sitecheck2.opera.com"), c
}

func Test_PrivateNetworkURLsAreNeverQueried(t *testing.T) {
	doer := &httpdoer.Fake{}
	svc, _ := newProtectionService(t, doer)

	var rating fraud.UrlRating
	var ok bool
	svc.GetURLRating("http://printer.local/", net.ParseIP("192.168.1.5"), func(r fraud.UrlRating, o bool) {
		rating, ok = r, o
	})

	assert.False(t, ok)
	assert.Equal(t, fraud.UrlRating{}, rating)
	assert.Empty(t, doer.Calls)
}

func Test_NonHTTPSchemesAreNeverQueried(t *testing.T) {
	for _, urlSpec := range []string{"file:///etc/passwd", "chrome://settings/", "data:text/plain,hi"} {
		doer := &httpdoer.Fake{}
		svc, _ := newProtectionService(t, doer)

		var ok bool
		svc.GetURLRating(urlSpec, nil, func(_ fraud.UrlRating, o bool) { ok = o })

		assert.False(t, ok, urlSpec)
		assert.Empty(t, doer.Calls, urlSpec)
	}
}

func Test_NonUniqueHostnamesAreNeverQueried(t *testing.T) {
	for _, urlSpec := range []string{"http://intra/", "http://localhost/", "http://printer.local/", "http://127.0.0.1/"} {
		doer := &httpdoer.Fake{}
		svc, _ := newProtectionService(t, doer)

		var ok bool
		svc.GetURLRating(urlSpec, nil, func(_ fraud.UrlRating, o bool) { ok = o })

		assert.False(t, ok, urlSpec)
		assert.Empty(t, doer.Calls, urlSpec)
	}
}

func Test_GetURLRatingFetchesThenDeliversSynchronouslyAfterRated(t *testing.T) {
	doer := &httpdoer.Fake{
		Responses: []httpdoer.Response{{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(sampleXML)}},
	}
	svc, _ := newProtectionService(t, doer)

	var got fraud.UrlRating
	var ok bool
	svc.GetURLRating("http://phish.example.com/login", net.ParseIP("1.2.3.4"), func(r fraud.UrlRating, o bool) {
		got, ok = r, o
	})

	require.True(t, ok)
	assert.Equal(t, fraud.Phishing, got.Type)
	require.Len(t, doer.Calls, 1)

	var got2 fraud.UrlRating
	svc.GetURLRating("http://phish.example.com/other", net.ParseIP("1.2.3.4"), func(r fraud.UrlRating, o bool) {
		got2 = r
	})
	assert.Equal(t, fraud.Phishing, got2.Type)
	assert.Len(t, doer.Calls, 1, "second lookup on an already-rated host must not re-fetch")
}

func Test_ConcurrentLookupsForSameHostShareOneFetch(t *testing.T) {
	doer := &httpdoer.Fake{
		Responses: []httpdoer.Response{{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(sampleXML)}},
	}
	svc, _ := newProtectionService(t, doer)

	calls := 0
	cb := func(fraud.UrlRating, bool) { calls++ }
	svc.GetURLRating("http://phish.example.com/a", nil, cb)
	svc.GetURLRating("http://phish.example.com/b", nil, cb)

	assert.Equal(t, 2, calls)
	assert.Len(t, doer.Calls, 1)
}

func Test_FailureGracePeriodDefersRecheckAndDoubles(t *testing.T) {
	doer := &httpdoer.Fake{
		Responses: []httpdoer.Response{
			{StatusCode: http.StatusInternalServerError},
			{StatusCode: http.StatusInternalServerError},
			{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(sampleXML)},
		},
	}
	svc, c := newProtectionService(t, doer)

	var ok1 bool
	svc.GetURLRating("http://phish.example.com/", nil, func(_ fraud.UrlRating, o bool) { ok1 = o })
	assert.False(t, ok1)
	require.Len(t, doer.Calls, 1)

	var ok2 bool
	svc.GetURLRating("http://phish.example.com/", nil, func(_ fraud.UrlRating, o bool) { ok2 = o })
	assert.False(t, ok2, "within the grace period, a lookup must not trigger another fetch")
	assert.Len(t, doer.Calls, 1)

	c.FastForward(5 * time.Minute)
	var ok3 bool
	svc.GetURLRating("http://phish.example.com/", nil, func(_ fraud.UrlRating, o bool) { ok3 = o })
	assert.False(t, ok3)
	require.Len(t, doer.Calls, 2, "grace period elapsed, a recheck is allowed")

	c.FastForward(5 * time.Minute)
	var ok4 bool
	svc.GetURLRating("http://phish.example.com/", nil, func(_ fraud.UrlRating, o bool) { ok4 = o })
	assert.False(t, ok4, "grace doubled to 8 minutes after the second failure")
	assert.Len(t, doer.Calls, 2)

	c.FastForward(5 * time.Minute)
	var ok5 bool
	var rating5 fraud.UrlRating
	svc.GetURLRating("http://phish.example.com/", nil, func(r fraud.UrlRating, o bool) { rating5, ok5 = r, o })
	require.Len(t, doer.Calls, 3)
	require.True(t, ok5)
	assert.Equal(t, fraud.Phishing, rating5.Type)
}

func Test_BypassURLRatingSuppressesExpiryAndMarksResult(t *testing.T) {
	doer := &httpdoer.Fake{
		Responses: []httpdoer.Response{{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(sampleXML)}},
	}
	svc, c := newProtectionService(t, doer)

	svc.BypassURLRating("http://phish.example.com/")

	var rating fraud.UrlRating
	var ok bool
	svc.GetURLRating("http://phish.example.com/login", nil, func(r fraud.UrlRating, o bool) { rating, ok = r, o })
	require.True(t, ok)
	assert.True(t, rating.ServerBypassed)

	c.FastForward(365 * 24 * time.Hour)
	var rating2 fraud.UrlRating
	svc.GetURLRating("http://phish.example.com/login", nil, func(r fraud.UrlRating, _ bool) { rating2 = r })
	assert.True(t, rating2.ServerBypassed)
	assert.Len(t, doer.Calls, 1, "a bypassed host's rating must not expire and refetch")
}

func Test_ServerListIsPrunedPastMaxSize(t *testing.T) {
	svc, _ := newProtectionService(t, &httpdoer.Fake{})

	for i := 0; i < 600; i++ {
		svc.GetURLRating(hostURL(i), nil, func(fraud.UrlRating, bool) {})
	}

	assert.LessOrEqual(t, svc.HostCount(), 512)
}

func hostURL(i int) string {
	return "http://host" + strconv.Itoa(i) + ".example.com/"
}
