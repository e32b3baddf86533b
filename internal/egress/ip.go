package egress

import (
	"net/netip"
	"strings"
)

// blockedPrefixes are address ranges the relay must never reach: loopback,
// RFC 1918, link-local, CGNAT, unique-local and unspecified.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("255.255.255.255/32"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// nat64 embeds an IPv4 address in the low 32 bits.
var nat64 = netip.MustParsePrefix("64:ff9b::/96")

// IsPrivateLiteral reports whether host is an IP literal in a private,
// loopback, link-local, unique-local or CGNAT range. IPv4-mapped and NAT64
// IPv6 addresses are checked against the embedded IPv4 address.
// Hostnames that are not literals return false.
func IsPrivateLiteral(host string) bool {
	h := strings.TrimSuffix(strings.Trim(host, "[]"), ".")
	if i := strings.IndexByte(h, '%'); i >= 0 {
		h = h[:i]
	}
	addr, err := netip.ParseAddr(h)
	if err != nil {
		return false
	}
	return isPrivateAddr(addr)
}

func isPrivateAddr(addr netip.Addr) bool {
	if addr.Is4In6() {
		return isPrivateAddr(addr.Unmap())
	}
	if addr.Is6() && nat64.Contains(addr) {
		b := addr.As16()
		return isPrivateAddr(netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}))
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsPrivate() || addr.IsUnspecified()
}

func isLocalhostName(host string) bool {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	return h == "localhost" || strings.HasSuffix(h, ".localhost")
}
