// Package realip resolves the client address of a request, honouring
// X-Forwarded-For only when the direct peer is a trusted proxy.
package realip

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey struct{}

// Config holds the configuration for the real IP middleware
type Config struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP parsing
	TrustProxy bool
	// TrustedProxies lists CIDR ranges or single addresses
	TrustedProxies []string
}

// Resolver determines client addresses.
type Resolver struct {
	trustProxy bool
	trusted    []netip.Prefix
}

// NewResolver parses cfg. Entries that are neither a prefix nor an address
// are an error.
func NewResolver(cfg Config) (*Resolver, error) {
	trusted, invalid := parseTrusted(cfg.TrustedProxies)
	if len(invalid) > 0 {
		return nil, fmt.Errorf("trusted proxies: not an address or CIDR: %s", strings.Join(invalid, ", "))
	}
	return &Resolver{trustProxy: cfg.TrustProxy, trusted: trusted}, nil
}

// Middleware stores the resolved client address in the request context.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), contextKey{}, res.ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Middleware builds a resolver from cfg, skipping invalid proxy entries.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	trusted, _ := parseTrusted(cfg.TrustedProxies)
	res := &Resolver{trustProxy: cfg.TrustProxy, trusted: trusted}
	return res.Middleware
}

func parseTrusted(entries []string) (trusted []netip.Prefix, invalid []string) {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			trusted = append(trusted, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			invalid = append(invalid, entry)
			continue
		}
		trusted = append(trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return trusted, invalid
}

// ClientIP resolves the client address of r without consulting the context.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer := hostOnly(r.RemoteAddr)
	if !res.trustProxy || !res.isTrusted(peer) {
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return peer
	}

	// Walk right to left; the first hop we do not trust is the client.
	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !res.isTrusted(hop) {
			return hop
		}
	}
	return strings.TrimSpace(hops[0])
}

func (res *Resolver) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// GetClientIP returns the address stored by the middleware, falling back to
// the peer address.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(contextKey{}).(string); ok && ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}
