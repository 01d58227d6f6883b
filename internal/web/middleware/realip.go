package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/JonMunkholm/caseimport/internal/core"
)

// TrustedRealIP extracts the real client IP from X-Real-IP or X-Forwarded-For
// headers, but ONLY if the request comes from a trusted proxy. Entries are
// CIDRs or single addresses. Requests from anywhere else keep RemoteAddr,
// so clients cannot spoof their address into rate limits or run records.
func TrustedRealIP(trusted []string) func(http.Handler) http.Handler {
	prefixes := parsePrefixes(trusted)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if remote, ok := parseAddr(r.RemoteAddr); ok && isTrusted(remote, prefixes) {
				if ip, ok := forwardedFor(r.Header); ok {
					r.RemoteAddr = ip.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestMetadata records the client address and user agent as the
// core.Requester of the request context. Run it after TrustedRealIP.
func RequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := core.RequesterFromContext(r.Context())
		req.IPAddress = ClientIP(r)
		req.UserAgent = r.UserAgent()
		next.ServeHTTP(w, r.WithContext(core.ContextWithRequester(r.Context(), req)))
	})
}

// ClientIP returns the client address without the port.
func ClientIP(r *http.Request) string {
	if ip, ok := parseAddr(r.RemoteAddr); ok {
		return ip.String()
	}
	return r.RemoteAddr
}

func parsePrefixes(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		slog.Warn("realip: invalid trusted proxy, skipping", "entry", entry)
	}
	return out
}

// forwardedFor reads X-Real-IP, then the first X-Forwarded-For hop.
func forwardedFor(h http.Header) (netip.Addr, bool) {
	if rip := strings.TrimSpace(h.Get("X-Real-IP")); rip != "" {
		a, err := netip.ParseAddr(rip)
		return a.Unmap(), err == nil
	}
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		a, err := netip.ParseAddr(strings.TrimSpace(first))
		return a.Unmap(), err == nil
	}
	return netip.Addr{}, false
}

// parseAddr parses "host:port" or a bare address.
func parseAddr(addr string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

func isTrusted(ip netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
