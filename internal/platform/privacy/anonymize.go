// Package privacy masks client network identifiers before they reach logs.
package privacy

import (
	"net"
	"net/netip"
)

// AnonymizeIP keeps only the network portion of an address: a /24 for IPv4
// (including IPv4-mapped IPv6) and a /48 for IPv6. Returns "unknown" for an
// empty input and "invalid" when it does not parse.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// AnonymizeRemoteAddr accepts an http.Request RemoteAddr ("host:port" or a
// bare host) and anonymizes the host.
func AnonymizeRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return AnonymizeIP(host)
}
