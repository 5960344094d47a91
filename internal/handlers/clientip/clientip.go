package clientip

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Resolver finds the client address of a request
// Forwarding headers are honored only when the direct peer is one of the trusted proxies
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver accepts CIDRs or single addresses of the proxies in front of the service
// Empty list trusts nobody: the peer address is always the client
func NewResolver(proxies []string) (*Resolver, error) {
	rs := &Resolver{}
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			addr, err := netip.ParseAddr(p)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", p, err)
			}
			addr = addr.Unmap()
			rs.trusted = append(rs.trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", p, err)
		}
		rs.trusted = append(rs.trusted, prefix.Masked())
	}
	return rs, nil
}

func (rs *Resolver) isTrusted(addr netip.Addr) bool {
	if rs == nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rs.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve walks X-Forwarded-For from the right and returns the first hop that is not a trusted proxy
// X-Real-IP is used only when a trusted peer sent no X-Forwarded-For
func (rs *Resolver) Resolve(r *http.Request) string {
	peer := peerAddr(r)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !rs.isTrusted(addr) {
		return peer
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}

	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			// Garbage left of a trusted hop can not be attributed to anyone
			return client
		}
		client = hop.Unmap().String()
		if !rs.isTrusted(hop) {
			return client
		}
	}

	if len(hops) == 0 {
		if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return realIP.Unmap().String()
		}
	}
	return client
}

type ctxKey struct{}

// Middleware resolves the client address once per request, FromRequest reads it back
// Nil resolver trusts nobody
func Middleware(rs *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ctxKey{}, rs.Resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromRequest returns address stored by Middleware or the peer address when there is none
func FromRequest(r *http.Request) string {
	if ip, ok := r.Context().Value(ctxKey{}).(string); ok {
		return ip
	}
	return peerAddr(r)
}

func peerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
