package resilientbridge

import (
	"container/list"
	"sync"
	"time"

	"github.com/SynergyMesh-master/KeyStonOps-sub004/internal/clock"
)

// DefaultCacheMaxSize bounds a cache built with a non-positive size.
const DefaultCacheMaxSize = 100

// Cache is a bounded FIFO response cache with per-entry TTL.
//
// Eviction is by insertion order, not access order: at capacity the single
// oldest-inserted entry is dropped, which keeps eviction O(1) with no
// bookkeeping on reads. Expired entries are invisible to Get and are purged
// lazily on the read that finds them.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = oldest insert

	clock   clock.Clock
	emitter *Emitter

	hits, misses, evictions, expirations uint64
}

type cacheEntry struct {
	key     string
	value   *Response
	created time.Time
	ttl     time.Duration
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Entries     int
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// NewCache creates a cache holding at most maxSize entries. emitter may be nil.
func NewCache(maxSize int, clk clock.Clock, emitter *Emitter) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheMaxSize
	}
	return &Cache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		clock:   clock.OrReal(clk),
		emitter: emitter,
	}
}

// expired is the single staleness test shared by Get and Prune.
func (e *cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.created) > e.ttl
}

// Get returns a copy of the cached response for key.
func (c *Cache) Get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if entry.expired(c.clock.Now()) {
		c.removeElement(el)
		c.expirations++
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.value.Clone(), true
}

// Set stores a copy of value under key for ttl. Inserting a new key into a full
// cache evicts the oldest-inserted entry first. Overwriting a key replaces its
// value and moves it to the newest position.
func (c *Cache) Set(key string, value *Response, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{
		key:     key,
		value:   value.Clone(),
		created: c.clock.Now(),
		ttl:     ttl,
	}

	if el, ok := c.entries[key]; ok {
		el.Value = entry
		c.order.MoveToBack(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Front(); oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}
	c.entries[key] = c.order.PushBack(entry)
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// Clear drops every entry and emits cache:cleared.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	c.emitter.Emit(Event{Type: EventCacheCleared, Time: c.clock.Now()})
}

// Prune physically removes expired entries and reports how many were dropped.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*cacheEntry).expired(now) {
			c.removeElement(el)
			c.expirations++
			removed++
		}
		el = next
	}
	return removed
}

// Len reports the number of stored entries, including expired ones not yet
// purged.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:     c.order.Len(),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

// removeElement must be called with c.mu held.
func (c *Cache) removeElement(el *list.Element) {
	entry := c.order.Remove(el).(*cacheEntry)
	delete(c.entries, entry.key)
}
