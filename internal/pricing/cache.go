package pricing

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/deskforge/api/internal/domain"
)

// CacheStats exposes cumulative cache counters for the diagnostics endpoint.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
	Size      int
	Capacity  int
}

// QuoteCache stores computed price breakdowns keyed by configuration.
// Entries expire after a TTL; an expired entry behaves as a miss. Get
// refreshes recency so eviction under capacity pressure is least recently
// used.
type QuoteCache interface {
	Get(ctx context.Context, key string) (domain.PriceBreakdown, bool)
	Put(ctx context.Context, key string, breakdown domain.PriceBreakdown)
	Stats() CacheStats
	Purge()
}

// MemoryQuoteCache is the in-process QuoteCache implementation.
type MemoryQuoteCache struct {
	ttl      time.Duration
	capacity int
	clock    func() time.Time

	mu        sync.Mutex
	entries   map[string]*list.Element
	order     *list.List
	hits      int64
	misses    int64
	evictions int64
	expired   int64
}

type cacheEntry struct {
	key       string
	breakdown domain.PriceBreakdown
	expires   time.Time
}

// NewMemoryQuoteCache constructs a cache holding at most capacity entries for ttl each.
func NewMemoryQuoteCache(ttl time.Duration, capacity int, clock func() time.Time) *MemoryQuoteCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if capacity <= 0 {
		capacity = 1000
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryQuoteCache{
		ttl:      ttl,
		capacity: capacity,
		clock:    clock,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached breakdown and refreshes its recency.
func (c *MemoryQuoteCache) Get(_ context.Context, key string) (domain.PriceBreakdown, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return domain.PriceBreakdown{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.clock().After(entry.expires) {
		c.removeLocked(elem)
		c.expired++
		c.misses++
		return domain.PriceBreakdown{}, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.breakdown, true
}

// Put stores the breakdown, evicting the least recently used entry when full.
func (c *MemoryQuoteCache) Put(_ context.Context, key string, breakdown domain.PriceBreakdown) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.clock().Add(c.ttl)
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.breakdown = breakdown
		entry.expires = expires
		c.order.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}

	elem := c.order.PushFront(&cacheEntry{key: key, breakdown: breakdown, expires: expires})
	c.entries[key] = elem
}

// Stats returns a snapshot of the cache counters.
func (c *MemoryQuoteCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		Size:      len(c.entries),
		Capacity:  c.capacity,
	}
}

// Purge drops every entry but keeps the counters.
func (c *MemoryQuoteCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *MemoryQuoteCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
}

var _ QuoteCache = (*MemoryQuoteCache)(nil)
