package vm

import "sync"

// Inline caches accelerate property access by remembering, per call
// site, which object shapes have been seen and where the property lives
// under each. State only moves forward: uninitialized, monomorphic,
// polymorphic, megamorphic. Megamorphic is terminal; once a site has
// blown past the entry limit it stays generic for the life of the cache.
//
// The executing thread mutates a cache while background compiles read
// it to plan speculation, so every cache and table operation locks.

// CacheState is the lifecycle state of one property access site.
type CacheState uint8

const (
	CacheUninitialized CacheState = iota
	CacheMonomorphic
	CachePolymorphic
	CacheMegamorphic
)

func (s CacheState) String() string {
	switch s {
	case CacheUninitialized:
		return "uninitialized"
	case CacheMonomorphic:
		return "monomorphic"
	case CachePolymorphic:
		return "polymorphic"
	case CacheMegamorphic:
		return "megamorphic"
	}
	return "invalid"
}

// DefaultPolymorphicLimit is the number of shape entries a site holds
// before going megamorphic.
const DefaultPolymorphicLimit = 4

// CacheEntry binds one shape to the property's slot offset under it.
type CacheEntry struct {
	Shape  ShapeID
	Offset uint32
}

// InlineCache is the cache for a single property access site.
type InlineCache struct {
	mu      sync.Mutex
	state   CacheState
	entries []CacheEntry
	limit   int

	hits   uint64
	misses uint64
}

// NewInlineCache creates an empty cache with the given entry limit.
// A limit below one falls back to the default.
func NewInlineCache(limit int) *InlineCache {
	if limit < 1 {
		limit = DefaultPolymorphicLimit
	}
	return &InlineCache{limit: limit}
}

// State returns the cache's lifecycle state.
func (c *InlineCache) State() CacheState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Entries returns a copy of the cached shape entries, most recent hit
// first.
func (c *InlineCache) Entries() []CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CacheEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Stats returns the hit and miss counts.
func (c *InlineCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Lookup returns the cached offset for a shape. Entries move to the
// front on a hit so a frequently seen shape is checked first.
func (c *InlineCache) Lookup(shape ShapeID) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CacheMegamorphic {
		c.misses++
		return 0, false
	}
	for i, e := range c.entries {
		if e.Shape == shape {
			if i > 0 {
				copy(c.entries[1:i+1], c.entries[:i])
				c.entries[0] = e
			}
			c.hits++
			return e.Offset, true
		}
	}
	c.misses++
	return 0, false
}

// Record adds a shape to offset binding learned from a slow-path
// resolution. A shape already present only refreshes its offset; new
// shapes past the limit flip the site to megamorphic and drop the
// entries. Transitions never go backward.
func (c *InlineCache) Record(shape ShapeID, offset uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CacheMegamorphic {
		return
	}
	for i := range c.entries {
		if c.entries[i].Shape == shape {
			c.entries[i].Offset = offset
			return
		}
	}
	if len(c.entries) >= c.limit {
		c.state = CacheMegamorphic
		c.entries = nil
		return
	}
	c.entries = append(c.entries, CacheEntry{Shape: shape, Offset: offset})
	switch len(c.entries) {
	case 1:
		c.state = CacheMonomorphic
	default:
		c.state = CachePolymorphic
	}
}

// Invalidate resets the cache to uninitialized. Used when a program
// version is replaced, never during normal state transitions.
func (c *InlineCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = CacheUninitialized
	c.entries = nil
}

// mono returns the single binding of a monomorphic cache.
func (c *InlineCache) mono() (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CacheMonomorphic || len(c.entries) != 1 {
		return CacheEntry{}, false
	}
	return c.entries[0], true
}

// InlineCacheTable holds the per-site caches of one function, keyed by
// instruction index. Caches are created lazily on first access.
type InlineCacheTable struct {
	mu    sync.RWMutex
	sites map[int]*InlineCache
	limit int
}

// NewInlineCacheTable creates a table whose sites use the given entry
// limit.
func NewInlineCacheTable(limit int) *InlineCacheTable {
	if limit < 1 {
		limit = DefaultPolymorphicLimit
	}
	return &InlineCacheTable{sites: make(map[int]*InlineCache), limit: limit}
}

// At returns the cache for an instruction site, creating it if needed.
func (t *InlineCacheTable) At(site int) *InlineCache {
	t.mu.RLock()
	c := t.sites[site]
	t.mu.RUnlock()
	if c != nil {
		return c
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c = t.sites[site]; c == nil {
		c = NewInlineCache(t.limit)
		t.sites[site] = c
	}
	return c
}

// Peek returns the cache for a site without creating one.
func (t *InlineCacheTable) Peek(site int) (*InlineCache, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.sites[site]
	return c, ok
}

// MonomorphicSites snapshots the sites currently holding exactly one
// shape, with that binding. The optimizing compiler plans shape guards
// from this snapshot while the function keeps executing.
func (t *InlineCacheTable) MonomorphicSites() map[int]CacheEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]CacheEntry)
	for site, c := range t.sites {
		if e, ok := c.mono(); ok {
			out[site] = e
		}
	}
	return out
}

// InvalidateAll resets every site in the table.
func (t *InlineCacheTable) InvalidateAll() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.sites {
		c.Invalidate()
	}
}
