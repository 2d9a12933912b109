// Package routecache implements the per-shard bounded LRU described in
// spec.md §3: identifier -> last-known-owning-shard-index, with sentinel
// -1 meaning unknown. The cache is advisory only; router.Route always
// verifies a cache hit before trusting it.
package routecache

import lru "github.com/hashicorp/golang-lru/v2"

// Unknown is returned by Get when id has no cached entry.
const Unknown = -1

// DefaultCapacity is the capacity spec.md's source uses (§3/§9); the
// Design Notes flag it as arbitrary and recommend a benchmark before
// relying on a different value in production.
const DefaultCapacity = 100

// Cache is a bounded LRU from identifier to owning shard index.
type Cache struct {
	inner *lru.Cache[string, int]
}

// New builds a Cache with the given capacity, falling back to
// DefaultCapacity for capacity <= 0.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	inner, err := lru.New[string, int](capacity)
	if err != nil {
		// Only returns an error for capacity <= 0, already guarded above.
		panic(err)
	}
	return &Cache{inner: inner}
}

// Get returns the cached shard index for id, or (Unknown, false) if absent.
func (c *Cache) Get(id string) (int, bool) {
	if idx, ok := c.inner.Get(id); ok {
		return idx, true
	}
	return Unknown, false
}

// Set records id's last-known owning shard index, overwriting any prior
// entry and possibly evicting the least-recently-used entry.
func (c *Cache) Set(id string, shardIndex int) {
	c.inner.Add(id, shardIndex)
}

// Invalidate removes id's cached entry, if any.
func (c *Cache) Invalidate(id string) {
	c.inner.Remove(id)
}
