package wire

import (
	"fmt"
	"net"
)

// Endpoint is the identity of a peer: a canonical (ip, port) pair. Two
// Endpoints are equal iff both components match after canonicalization.
// Endpoints are immutable once constructed.
type Endpoint struct {
	IP   string
	Port uint16
}

// NewEndpoint canonicalizes ip (collapsing a mapped ::ffff:a.b.c.d form down
// to plain IPv4) and pairs it with port.
func NewEndpoint(ip string, port uint16) (Endpoint, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Endpoint{}, fmt.Errorf("wire: invalid IP %q", ip)
	}
	return Endpoint{IP: canonicalIP(parsed), Port: port}, nil
}

func canonicalIP(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// String renders the endpoint as "ip:port", bracketing IPv6 addresses.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP, fmt.Sprintf("%d", e.Port))
}

// IsIPv6 reports whether the endpoint's canonical IP is native IPv6 (not an
// IPv4-mapped address that was collapsed to IPv4 already). Kept distinct
// from canonicalization per an open design question: metrics should still
// be able to tell a native-v6 peer from an IPv4-mapped one, even though a
// mapped address and a plain IPv4 address canonicalize identically.
func (e Endpoint) IsIPv6() bool {
	ip := net.ParseIP(e.IP)
	return ip != nil && ip.To4() == nil
}

func classify(ip net.IP) (private, loopback, multicast, unspecified, linkLocal bool) {
	return ip.IsPrivate(), ip.IsLoopback(), ip.IsMulticast(), ip.IsUnspecified(),
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// IsRoutable reports whether the endpoint's IP is plausibly a public,
// dialable address: not private/loopback/multicast/unspecified/link-local/reserved.
func (e Endpoint) IsRoutable() bool {
	ip := net.ParseIP(e.IP)
	if ip == nil {
		return false
	}
	private, loopback, multicast, unspecified, linkLocal := classify(ip)
	if private || loopback || multicast || unspecified || linkLocal {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		// 0.0.0.0/8 and 240.0.0.0/4 (reserved) are not dialable.
		if ip4[0] == 0 || ip4[0] >= 240 {
			return false
		}
	}
	return true
}
