package redact

import (
	"fmt"
	"hash/fnv"
	"time"

	cache_pkg "github.com/patrickmn/go-cache"

	"github.com/vulpeslabs/redaction-plane/pkg/span"
)

// Cache memoizes per-detector output for repeated texts. It is an
// explicitly constructed service passed into the orchestrator, never a
// process-wide singleton, so engines stay testable in isolation.
type Cache struct {
	client *cache_pkg.Cache
}

// NewCache creates a detection cache with the given entry TTL and cleanup
// interval.
func NewCache(ttl, cleanup time.Duration) *Cache {
	return &Cache{client: cache_pkg.New(ttl, cleanup)}
}

func cacheKey(detector, text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return fmt.Sprintf("%s:%x", detector, h.Sum64())
}

// Get returns the cached spans for one detector and text. The returned
// slice is a copy; the resolver mutates spans in place.
func (c *Cache) Get(detector, text string) ([]span.Span, bool) {
	v, ok := c.client.Get(cacheKey(detector, text))
	if !ok {
		return nil, false
	}
	cached := v.([]span.Span)
	out := make([]span.Span, len(cached))
	copy(out, cached)
	return out, true
}

// Put stores detector output for a text.
func (c *Cache) Put(detector, text string, spans []span.Span) {
	stored := make([]span.Span, len(spans))
	copy(stored, spans)
	c.client.SetDefault(cacheKey(detector, text), stored)
}
