// Package shard implements Mgr, the per-partition session table, owner
// index and per-shard route cache described in spec.md §4.2/§4.3. Grounded on
// the teacher's gateway/shard_group.go (a local map guarded by the
// group's own goroutine) generalized from per-guild sharding to
// per-identifier-hash sharding, and original_source/MsquicStorage's
// session index for the ownership-transfer shape.
package shard

import (
	"sync"

	"github.com/TheRockettek/quicrouter/executor"
	"github.com/TheRockettek/quicrouter/routecache"
	"github.com/TheRockettek/quicrouter/session"
)

// Table owns every shard's partition: its local session map, its slice of
// the cluster-wide owner index, and its own route cache. Count shards are
// created up front; each is
// pinned to exactly one executor.Runner for its entire life (spec.md
// §4.2: "every mutation of shard state happens on that shard's own
// goroutine").
type Table struct {
	pool *executor.Pool

	shards []*partition
}

// partition is one shard's exclusively-owned session set, owner index,
// and route cache. Only ever touched from the goroutine backing
// shards[i], reached via pool.Runner(i).Post. Per spec.md §3/§5, the
// route cache is an attribute of each shard ("a bounded LRU route
// cache", capacity ~100 *per shard*) confined to its owning shard's
// runner exactly like local/owners, not a single cache shared cluster-wide.
type partition struct {
	mu     sync.RWMutex // guards localMap for read-only lookups from other shards' Post closures
	local  map[string]*session.Sock
	owners map[string]int // accountID -> shard index, authoritative for ids this partition owns
	cache  *routecache.Cache
}

// New builds a Table with count shards backed by pool, each with its own
// cache capped at cacheCapacity route entries (spec.md §3's advisory LRU,
// §9's "capacity ~100" note).
func New(pool *executor.Pool, cacheCapacity int) *Table {
	t := &Table{pool: pool}
	t.shards = make([]*partition, pool.Size())
	for i := range t.shards {
		t.shards[i] = &partition{
			local:  make(map[string]*session.Sock),
			owners: make(map[string]int),
			cache:  routecache.New(cacheCapacity),
		}
	}
	return t
}

// Count returns the number of shards.
func (t *Table) Count() int {
	return len(t.shards)
}

// IndexFor hashes id to its owning shard index (spec.md §3: "hash(id)
// mod N", physically partitioned, never rebalanced at runtime).
func (t *Table) IndexFor(id string) int {
	return int(fnv32(id) % uint32(len(t.shards)))
}

// Runner returns the executor.Runner backing shard index i, the only
// goroutine allowed to mutate that shard's partition.
func (t *Table) Runner(i int) *executor.Runner {
	return t.pool.Runner(i)
}

// Attach registers sock under accountID on the shard that accepted it
// (callerIndex) and records ownership in id's home partition
// (spec.md §4.2). Duplicate registration policy is "replace" (SPEC_FULL.md
// Open Question): an existing sock for the same accountID is silently
// displaced from local_map without being closed; it becomes unroutable
// until its own transport detects the problem.
//
// Attach must be called from the goroutine owning callerIndex.
func (t *Table) Attach(callerIndex int, accountID string, sock *session.Sock) {
	p := t.shards[callerIndex]
	p.mu.Lock()
	p.local[accountID] = sock
	p.mu.Unlock()

	homeIdx := t.IndexFor(accountID)
	if homeIdx == callerIndex {
		p.mu.Lock()
		p.owners[accountID] = callerIndex
		p.mu.Unlock()
		p.cache.Set(accountID, callerIndex)
		return
	}

	// Cross-shard: publish ownership on accountID's home shard via the
	// cooperative post model (spec.md §4.2/§4.7), then warm callerIndex's
	// own cache (its route cache, not the home shard's).
	home := t.shards[homeIdx]
	t.pool.Runner(homeIdx).Post(func() {
		home.mu.Lock()
		home.owners[accountID] = callerIndex
		home.mu.Unlock()
	})
	p.cache.Set(accountID, callerIndex)
}

// Detach removes accountID's session from callerIndex's local map and
// clears ownership on its home shard (spec.md §4.1 teardown path).
//
// Detach must be called from the goroutine owning callerIndex.
func (t *Table) Detach(callerIndex int, accountID string) {
	p := t.shards[callerIndex]
	p.mu.Lock()
	delete(p.local, accountID)
	p.mu.Unlock()

	homeIdx := t.IndexFor(accountID)
	home := t.shards[homeIdx]
	t.pool.Runner(homeIdx).Post(func() {
		home.mu.Lock()
		delete(home.owners, accountID)
		home.mu.Unlock()
	})
	p.cache.Invalidate(accountID)
}

// Local looks up accountID's session within shard index i's local map,
// without posting. Safe to call from any goroutine (read-locked).
func (t *Table) Local(i int, accountID string) (*session.Sock, bool) {
	p := t.shards[i]
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.local[accountID]
	return s, ok
}

// Owner resolves accountID's current owning shard index by reading
// accountID's home partition's authoritative owners map. Safe to call
// from any goroutine; it does not itself post, so the caller must not
// be standing in for the home shard's own serialized access pattern.
func (t *Table) Owner(accountID string) (int, bool) {
	homeIdx := t.IndexFor(accountID)
	home := t.shards[homeIdx]
	home.mu.RLock()
	defer home.mu.RUnlock()
	idx, ok := home.owners[accountID]
	return idx, ok
}

// CacheLookup consults callerIndex's own advisory route cache only
// (spec.md §4.3 fast path; §3/§5: the route cache is per-shard, confined
// to that shard's own runner), returning routecache.Unknown-equivalent
// false on miss.
func (t *Table) CacheLookup(callerIndex int, accountID string) (int, bool) {
	return t.shards[callerIndex].cache.Get(accountID)
}

// CacheSet warms callerIndex's own route cache with accountID's current
// owning shard index, used by the two-hop resolve path (spec.md §4.3 step
// 3: "update from_shard.route_cache[targetId] = t") once the authoritative
// lookup has found it.
func (t *Table) CacheSet(callerIndex int, accountID string, shardIndex int) {
	t.shards[callerIndex].cache.Set(accountID, shardIndex)
}

// EachLocal visits every session locally attached to any shard, calling fn
// with its accountID and Sock. Used by the SERVER_HEARTBEAT housekeeping
// sweep (SPEC_FULL.md supplemented feature) to find attached cloud-server
// sessions without threading the lookup through the executor's post model;
// like Local, it is safe to call from any goroutine (read-locked).
func (t *Table) EachLocal(fn func(accountID string, sock *session.Sock)) {
	for _, p := range t.shards {
		p.mu.RLock()
		for accountID, sock := range p.local {
			fn(accountID, sock)
		}
		p.mu.RUnlock()
	}
}

// fnv32 is the hash spec.md §3 requires only to be stable and
// deterministic across the process's life; FNV-1a is the teacher's
// choice for shard-key hashing in gateway/manager.go.
func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
