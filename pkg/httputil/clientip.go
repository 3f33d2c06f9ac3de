package httputil

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
)

var trustedProxies atomic.Pointer[[]*net.IPNet]

// SetTrustedProxies sets the reverse proxies whose X-Forwarded-For and
// X-Real-IP headers ClientIP honours. Entries are CIDRs or bare addresses.
// An empty list trusts no proxy.
func SetTrustedProxies(proxies []string) error {
	nets := make([]*net.IPNet, 0, len(proxies))
	for _, p := range proxies {
		if _, ipNet, err := net.ParseCIDR(p); err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(p)
		if ip == nil {
			return fmt.Errorf("invalid trusted proxy %q", p)
		}
		bits := 8 * net.IPv6len
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 8*net.IPv4len
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	trustedProxies.Store(&nets)
	return nil
}

func isTrustedProxy(ip net.IP) bool {
	nets := trustedProxies.Load()
	if nets == nil || ip == nil {
		return false
	}
	for _, n := range *nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the client address. Forwarding headers are only read
// when the connection comes from a trusted proxy; X-Forwarded-For is then
// walked from the right and the first untrusted hop wins.
func ClientIP(r *http.Request) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	remote = strings.Trim(remote, "[]")

	if !isTrustedProxy(net.ParseIP(remote)) {
		return remote
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		client := remote
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			ip := net.ParseIP(hop)
			if ip == nil {
				break
			}
			client = hop
			if !isTrustedProxy(ip) {
				break
			}
		}
		return client
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return remote
}
