package session

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xkilldash9x/wayfarer/internal/resolver"
)

const defaultCacheSize = 256

// CacheEntry records which strategy last resolved an instruction on a page.
type CacheEntry struct {
	Strategy resolver.Strategy
	At       time.Time
}

type cacheKey struct {
	url         string
	instruction string
}

// SchemaCache is the per-session memory of successful strategies, keyed by
// (url, instruction). It is advisory: a hit only reorders the strategy chain.
// Each cache belongs to exactly one session.
type SchemaCache struct {
	entries *lru.Cache[cacheKey, CacheEntry]
	now     func() time.Time
}

// NewSchemaCache creates a cache bounded to size entries.
func NewSchemaCache(size int) *SchemaCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[cacheKey, CacheEntry](size)
	if err != nil {
		// Only returned for a non-positive size, which is excluded above.
		panic(err)
	}
	return &SchemaCache{entries: entries, now: time.Now}
}

// Get returns the entry for (url, instruction).
func (c *SchemaCache) Get(url, instruction string) (CacheEntry, bool) {
	return c.entries.Get(cacheKey{url: url, instruction: instruction})
}

// Put records that strategy resolved instruction on url.
func (c *SchemaCache) Put(url, instruction string, strategy resolver.Strategy) {
	c.entries.Add(cacheKey{url: url, instruction: instruction}, CacheEntry{Strategy: strategy, At: c.now()})
}

// Len returns the number of cached entries.
func (c *SchemaCache) Len() int {
	return c.entries.Len()
}
