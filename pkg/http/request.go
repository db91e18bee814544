package http

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPExtractor resolves the client address of a request. Forwarding headers
// are only honoured when the direct peer is a trusted proxy.
type IPExtractor struct {
	trusted []netip.Prefix
}

// NewIPExtractor parses the trusted proxy CIDR ranges
func NewIPExtractor(trustedProxies []string) (*IPExtractor, error) {
	prefixes := make([]netip.Prefix, 0, len(trustedProxies))
	for _, cidr := range trustedProxies {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return &IPExtractor{trusted: prefixes}, nil
}

// ClientIP returns the address used to fingerprint the request. When the
// peer is trusted, X-Forwarded-For is walked from the right and the first
// hop that is not itself a trusted proxy wins. X-Real-IP is the fallback.
// IPv4-mapped IPv6 addresses are returned in their IPv4 form.
func (e *IPExtractor) ClientIP(r *http.Request) string {
	peer := canonicalIP(remoteAddr(r))
	if e == nil || !e.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				break
			}
			if !e.isTrusted(hop) {
				return canonicalIP(hop)
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if _, err := netip.ParseAddr(xri); err == nil {
			return canonicalIP(xri)
		}
	}

	return peer
}

func (e *IPExtractor) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range e.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func canonicalIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	return addr.Unmap().String()
}

// remoteAddr strips the port from RemoteAddr
func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
