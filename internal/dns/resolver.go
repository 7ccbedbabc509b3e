package dns

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foxzi/mailfleet/internal/email"
)

// Lookuper is the part of *net.Resolver the cache wraps
type Lookuper interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Resolver performs MX and TXT lookups with caching
type Resolver struct {
	upstream Lookuper
	cache    map[string]cacheEntry
	ttl      time.Duration
	mu       sync.RWMutex
	now      func() time.Time
}

type cacheEntry struct {
	mx        []*net.MX
	txt       []string
	expiresAt time.Time
}

// NewResolver creates a caching resolver. A nil upstream uses net.DefaultResolver.
func NewResolver(cacheTTL time.Duration, upstream Lookuper) *Resolver {
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}
	if upstream == nil {
		upstream = net.DefaultResolver
	}
	return &Resolver{
		upstream: upstream,
		cache:    make(map[string]cacheEntry),
		ttl:      cacheTTL,
		now:      time.Now,
	}
}

// LookupMX returns MX records sorted by preference, hosts without the trailing dot.
// Failed lookups are not cached.
func (r *Resolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	key := "mx:" + email.NormalizeDomain(domain)

	if entry, ok := r.cached(key); ok {
		return entry.mx, nil
	}

	mxRecords, err := r.upstream.LookupMX(ctx, email.NormalizeDomain(domain))
	if err != nil {
		return nil, err
	}

	records := make([]*net.MX, len(mxRecords))
	for i, mx := range mxRecords {
		records[i] = &net.MX{
			Host: strings.TrimSuffix(mx.Host, "."),
			Pref: mx.Pref,
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})

	r.store(key, cacheEntry{mx: records})
	return records, nil
}

// LookupTXT returns the TXT records of name
func (r *Resolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	key := "txt:" + email.NormalizeDomain(name)

	if entry, ok := r.cached(key); ok {
		return entry.txt, nil
	}

	records, err := r.upstream.LookupTXT(ctx, email.NormalizeDomain(name))
	if err != nil {
		return nil, err
	}

	r.store(key, cacheEntry{txt: records})
	return records, nil
}

func (r *Resolver) cached(key string) (cacheEntry, bool) {
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()

	if ok && r.now().Before(entry.expiresAt) {
		return entry, true
	}
	return cacheEntry{}, false
}

func (r *Resolver) store(key string, entry cacheEntry) {
	entry.expiresAt = r.now().Add(r.ttl)

	r.mu.Lock()
	r.cache[key] = entry
	r.mu.Unlock()
}

// IsNotFound reports whether err is an NXDOMAIN or no-data answer
func IsNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
