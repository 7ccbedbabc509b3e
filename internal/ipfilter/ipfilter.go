// Package ipfilter restricts HTTP endpoints to an allow-list of IPs and CIDRs.
package ipfilter

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// Filter checks client addresses against allowed networks.
// An empty filter allows everything.
type Filter struct {
	nets   []*net.IPNet
	logger *slog.Logger
}

// ParseNetworks parses IPs and CIDRs. A bare IP becomes a /32 or /128.
// Blank entries are ignored.
func ParseNetworks(entries []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			nets = append(nets, ipNet)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", entry)
		}
		bits := 128
		if ip.To4() != nil {
			ip = ip.To4()
			bits = 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

// New builds a filter from allowed IPs/CIDRs.
func New(allowed []string, logger *slog.Logger) (*Filter, error) {
	nets, err := ParseNetworks(allowed)
	if err != nil {
		return nil, err
	}
	return &Filter{nets: nets, logger: logger}, nil
}

// Enabled reports whether any network is configured.
func (f *Filter) Enabled() bool {
	return f != nil && len(f.nets) > 0
}

// IsAllowed reports whether ip may pass.
func (f *Filter) IsAllowed(ip net.IP) bool {
	if !f.Enabled() {
		return true
	}
	for _, n := range f.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the request's client address, preferring the first
// X-Forwarded-For hop, then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

// Middleware rejects requests from addresses outside the allow-list with 403.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		ip := ClientIP(r)
		if ip == nil || !f.IsAllowed(ip) {
			f.logger.Warn("request denied by IP filter",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
