// Package iputil resolves the client address of HTTP requests behind trusted proxies.
package iputil

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ParsePrefixes parses IP addresses and CIDR ranges. A bare address becomes a
// single-host prefix (/32 or /128).
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	if len(values) == 0 {
		return nil, nil
	}

	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if addr, err := netip.ParseAddr(v); err == nil {
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IP/CIDR format: %s (%w)", v, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

// Contains reports whether addr falls within any of the prefixes.
func Contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the client that sent r.
//
// header (e.g. X-Real-IP) and then the first X-Forwarded-For entry are only
// honoured when the immediate peer is a trusted proxy. Otherwise the peer
// address is returned.
func ClientIP(r *http.Request, trusted []netip.Prefix, header string) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}

	peerAddr, err := netip.ParseAddr(peer)
	if err != nil || !Contains(trusted, peerAddr) {
		return peer
	}

	if header != "" {
		if ip := strings.TrimSpace(r.Header.Get(header)); isAddr(ip) {
			return ip
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); isAddr(ip) {
			return ip
		}
	}
	return peer
}

func isAddr(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}
