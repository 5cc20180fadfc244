// Package resolver implements the DNS/FQDN facade of spec.md §4.6:
// forward (gethostbyname) and reverse (gethostbyaddr) lookups cached in
// memory. Every answer is cached for 5 minutes clamped to
// [MinTTL, MaxTTL]; the TTLs of the answer records are not consulted.
//
// Concurrent identical lookups coalesce via golang.org/x/sync/singleflight,
// the same mechanism internal/ident uses for the RFC 1413 query — both are
// grounded on the one coalescing requirement spec.md §4.6 states twice.
package resolver

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/squidgo/proxycore/internal/obslog"
)

// Config bounds the cache's TTL window.
type Config struct {
	MinTTL time.Duration
	MaxTTL time.Duration
}

type cacheEntry struct {
	names   []string // forward: A/AAAA-resolved IPs as strings; reverse: PTR names
	expires time.Time
}

// Facade resolves and caches forward and reverse DNS lookups.
type Facade struct {
	cfg   Config
	res   *net.Resolver
	log   *obslog.Logger
	group singleflight.Group

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New returns a Facade using net.DefaultResolver.
func New(cfg Config, log *obslog.Logger) *Facade {
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = time.Minute
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 6 * time.Hour
	}
	return &Facade{cfg: cfg, res: net.DefaultResolver, log: log, cache: make(map[string]cacheEntry)}
}

func (f *Facade) clampTTL(d time.Duration) time.Duration {
	if d < f.cfg.MinTTL {
		return f.cfg.MinTTL
	}
	if d > f.cfg.MaxTTL {
		return f.cfg.MaxTTL
	}
	return d
}

func (f *Facade) lookup(key string, load func() ([]string, error)) ([]string, error) {
	f.mu.Lock()
	if e, ok := f.cache[key]; ok && time.Now().Before(e.expires) {
		f.mu.Unlock()
		return e.names, nil
	}
	f.mu.Unlock()

	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		names, err := load()
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[key] = cacheEntry{names: names, expires: time.Now().Add(f.clampTTL(5 * time.Minute))}
		f.mu.Unlock()
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// ForwardLookup resolves host to its IP addresses (gethostbyname).
func (f *Facade) ForwardLookup(ctx context.Context, host string) ([]string, error) {
	return f.lookup("fwd:"+host, func() ([]string, error) {
		addrs, err := f.res.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		return addrs, nil
	})
}

// ReverseLookup resolves ip to its PTR names (gethostbyaddr), used by the
// destination-domain/source-domain ACL terms (spec.md §4.4 scenario 4).
func (f *Facade) ReverseLookup(ctx context.Context, ip string) ([]string, error) {
	return f.lookup("rev:"+ip, func() ([]string, error) {
		names, err := f.res.LookupAddr(ctx, ip)
		if err != nil {
			return nil, err
		}
		for i, n := range names {
			names[i] = trimTrailingDot(n)
		}
		return names, nil
	})
}

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

// Invalidate drops any cached answer for host or ip, used when a reload
// wants a clean cache (spec.md §5 "a reload installs a new snapshot").
func (f *Facade) Invalidate(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, "fwd:"+key)
	delete(f.cache, "rev:"+key)
}
