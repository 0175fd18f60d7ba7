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

package netrequest

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is the legacy protocol's required signing algorithm, not a choice.
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
)

// oauth1Params are the parameters signed into a legacy OAuth1 Authorization
// header, one per migration attempt (nonce and timestamp are regenerated
// on every retry).
type oauth1Params struct {
	consumerKey    string
	token          string
	nonce          string
	timestampUnix  int64
	operaTimeSkew  int64
	signatureBase  string
	consumerSecret string
	tokenSecret    string
}

// signOAuth1Header builds the "Authorization: OAuth ..." header value for
// a POST to urlString signed with HMAC-SHA1 per the OAuth1 one-legged
// signing scheme, including the legacy opera_time_skew parameter.
func signOAuth1Header(method, urlString string, p oauth1Params) string {
	params := map[string]string{
		"oauth_consumer_key":     p.consumerKey,
		"oauth_token":            p.token,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(p.timestampUnix, 10),
		"oauth_nonce":            p.nonce,
		"oauth_version":          "1.0",
		"opera_time_skew":        strconv.FormatInt(p.operaTimeSkew, 10),
	}

	baseString := buildSignatureBaseString(method, urlString, params)
	key := url.QueryEscape(p.consumerSecret) + "&" + url.QueryEscape(p.tokenSecret)
	sig := hmacSHA1Base64(baseString, key)
	params["oauth_signature"] = sig

	return "OAuth " + encodeAuthorizationParams(params)
}

func buildSignatureBaseString(method, urlString string, params map[string]string) string {
	normalized := encodeSignatureParams(params)
	return method + "&" + url.QueryEscape(urlString) + "&" + url.QueryEscape(normalized)
}

func encodeSignatureParams(params map[string]string) string {
	keys := sortedKeys(params)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "&"
		}
		out += url.QueryEscape(k) + "=" + url.QueryEscape(params[k])
	}
	return out
}

func encodeAuthorizationParams(params map[string]string) string {
	keys := sortedKeys(params)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf(`%s="%s"`, url.QueryEscape(k), url.QueryEscape(params[k]))
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func hmacSHA1Base64(message, key string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
