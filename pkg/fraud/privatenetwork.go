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
	"net"
	"strings"
)

var privateNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"127.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
	"fec0::/10",
	"::1/128",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// isPrivateNetwork reports whether ip falls within one of the ranges this
// core never asks the remote reputation service about.
func isPrivateNetwork(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range privateNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// isHostnameNonUnique reports whether host is an intranet name: a single
// label (no dot), a ".local" mDNS name, or a literal loopback/private IP
// address. These never resolve through the public reputation service and
// must never reach it.
func isHostnameNonUnique(host string) bool {
	if host == "" {
		return true
	}
	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return true
	}
	if !strings.Contains(host, ".") && net.ParseIP(host) == nil {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || isPrivateNetwork(ip) {
			return true
		}
	}
	return false
}

// allowedFraudCheckScheme reports whether scheme is one of the three the
// reputation service is ever consulted for.
func allowedFraudCheckScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https", "ftp":
		return true
	default:
		return false
	}
}
