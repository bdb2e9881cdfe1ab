package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ResolverFunc answers a category/brand text lookup with an identifier, or
// ErrNotResolved when the external matcher finds nothing.
type ResolverFunc func(ctx context.Context, marketplace, name string) (int64, error)

// ErrNotResolved is returned when the external matcher has no identifier
// for the given name.
var ErrNotResolved = errors.New("lookup not resolved")

// LookupCache memoizes category/brand resolutions per marketplace with a
// fixed TTL. It is an injected object rather than a process-wide singleton;
// Invalidate drops a single entry, so a corrected mapping takes effect
// without a restart.
type LookupCache struct {
	cache    Cache
	resolver ResolverFunc
	kind     string
	ttl      time.Duration
}

type lookupEntry struct {
	ID       int64 `json:"id"`
	Resolved bool  `json:"resolved"`
}

// NewLookupCache builds a cache for one lookup kind ("brand", "category")
func NewLookupCache(cache Cache, resolver ResolverFunc, kind string, ttl time.Duration) *LookupCache {
	return &LookupCache{
		cache:    cache,
		resolver: resolver,
		kind:     kind,
		ttl:      ttl,
	}
}

func (l *LookupCache) key(marketplace, name string) string {
	return fmt.Sprintf("lookup:%s:%s:%s", l.kind, marketplace, name)
}

// Resolve returns the cached identifier for name, consulting the resolver on
// a miss. Negative results are cached too so an unresolvable name does not
// hammer the matcher on every item.
func (l *LookupCache) Resolve(ctx context.Context, marketplace, name string) (int64, error) {
	if name == "" {
		return 0, ErrNotResolved
	}

	key := l.key(marketplace, name)
	if raw, err := l.cache.Get(ctx, key); err == nil {
		var entry lookupEntry
		if err := json.Unmarshal(raw, &entry); err == nil {
			if !entry.Resolved {
				return 0, ErrNotResolved
			}
			return entry.ID, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		// Cache outage degrades to direct resolution
		log.Warn().Err(err).Str("kind", l.kind).Msg("Lookup cache unavailable, resolving directly")
	}

	id, err := l.resolver(ctx, marketplace, name)
	if err != nil && !errors.Is(err, ErrNotResolved) {
		return 0, err
	}

	entry := lookupEntry{ID: id, Resolved: err == nil}
	if raw, marshalErr := json.Marshal(entry); marshalErr == nil {
		if setErr := l.cache.Set(ctx, key, raw, l.ttl); setErr != nil {
			log.Warn().Err(setErr).Str("kind", l.kind).Msg("Failed to cache lookup result")
		}
	}

	if err != nil {
		return 0, ErrNotResolved
	}
	return id, nil
}

// Invalidate drops one cached entry
func (l *LookupCache) Invalidate(ctx context.Context, marketplace, name string) error {
	return l.cache.Delete(ctx, l.key(marketplace, name))
}
