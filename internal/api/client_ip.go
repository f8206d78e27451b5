package api

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPResolver picks the address used as a rate limit key. Forwarding
// headers count only when the direct peer is a configured proxy.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{}

	for _, raw := range trustedProxies {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		if addr, err := netip.ParseAddr(value); err == nil {
			addr = addr.Unmap()
			resolver.trusted = append(resolver.trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}

		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", value, err)
		}
		resolver.trusted = append(resolver.trusted, prefix.Masked())
	}

	return resolver, nil
}

func (r *ClientIPResolver) Resolve(req *http.Request) string {
	peer, ok := addrFromRemote(req.RemoteAddr)
	if !ok {
		return "unknown"
	}

	if r.isTrusted(peer) {
		if forwarded, ok := firstForwarded(req.Header.Get("X-Forwarded-For")); ok {
			return forwarded.String()
		}
		if realIP, ok := parseAddr(req.Header.Get("X-Real-IP")); ok {
			return realIP.String()
		}
	}

	return peer.String()
}

func (r *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func firstForwarded(header string) (netip.Addr, bool) {
	for part := range strings.SplitSeq(header, ",") {
		if addr, ok := parseAddr(part); ok {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

func addrFromRemote(remoteAddr string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return parseAddr(host)
	}
	return parseAddr(remoteAddr)
}

func parseAddr(value string) (netip.Addr, bool) {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" {
		return netip.Addr{}, false
	}

	if addr, err := netip.ParseAddr(strings.Trim(value, "[]")); err == nil {
		return addr.Unmap(), true
	}
	if ap, err := netip.ParseAddrPort(value); err == nil {
		return ap.Addr().Unmap(), true
	}
	return netip.Addr{}, false
}
