package search

import (
	"context"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"sourcer/internal/domain/agent/ports"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 10 * time.Minute
)

type cacheEntry struct {
	results  []Result
	storedAt time.Time
}

// Cached memoizes non-empty results keyed by (query, hint, count). Errors
// and empty result sets are never cached.
type Cached struct {
	delegate ports.SearchProvider
	cache    *lru.Cache[string, cacheEntry]
	ttl      time.Duration
	now      func() time.Time
}

// NewCached wraps delegate. A nil delegate returns nil so callers can keep
// the "provider not configured" branch.
func NewCached(delegate ports.SearchProvider, size int, ttl time.Duration) *Cached {
	if delegate == nil {
		return nil
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		cache, _ = lru.New[string, cacheEntry](defaultCacheSize)
	}
	return &Cached{delegate: delegate, cache: cache, ttl: ttl, now: time.Now}
}

func (c *Cached) Name() string { return c.delegate.Name() }

func (c *Cached) Search(ctx context.Context, req ports.SearchRequest) ([]Result, error) {
	key := cacheKey(req)
	if entry, ok := c.cache.Get(key); ok {
		if c.now().Sub(entry.storedAt) < c.ttl {
			return cloneResults(entry.results), nil
		}
		c.cache.Remove(key)
	}
	results, err := c.delegate.Search(ctx, req)
	if err != nil || len(results) == 0 {
		return results, err
	}
	c.cache.Add(key, cacheEntry{results: cloneResults(results), storedAt: c.now()})
	return results, nil
}

func cacheKey(req ports.SearchRequest) string {
	query := strings.Join(strings.Fields(strings.ToLower(req.Query)), " ")
	return req.ProviderHint + "|" + strconv.Itoa(req.NumResults) + "|" + query
}

func cloneResults(in []Result) []Result {
	out := make([]Result, len(in))
	copy(out, in)
	return out
}
