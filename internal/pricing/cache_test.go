package pricing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/deskforge/api/internal/domain"
)

func breakdownWithTotal(total int64) domain.PriceBreakdown {
	return domain.PriceBreakdown{Material: domain.MaterialWood, Total: total, Mode: domain.PricingModeEstimate}
}

func TestMemoryQuoteCacheExpiredEntryIsMiss(t *testing.T) {
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	cache := NewMemoryQuoteCache(5*time.Minute, 10, func() time.Time { return now })
	ctx := context.Background()

	cache.Put(ctx, "k", breakdownWithTotal(117700))
	if _, ok := cache.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry missed")
	}

	now = now.Add(5*time.Minute + time.Second)
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Fatal("expired entry served as hit")
	}

	stats := cache.Stats()
	if stats.Expired != 1 {
		t.Fatalf("expired = %d, want 1", stats.Expired)
	}
	if stats.Size != 0 {
		t.Fatalf("size = %d, want 0 after expiry removal", stats.Size)
	}
}

func TestMemoryQuoteCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewMemoryQuoteCache(time.Hour, 3, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cache.Put(ctx, fmt.Sprintf("k%d", i), breakdownWithTotal(int64(i)))
	}

	// Touch k0 so k1 becomes the eviction candidate.
	if _, ok := cache.Get(ctx, "k0"); !ok {
		t.Fatal("k0 missed before eviction")
	}

	cache.Put(ctx, "k3", breakdownWithTotal(3))

	if _, ok := cache.Get(ctx, "k1"); ok {
		t.Fatal("k1 survived, want evicted as least recently used")
	}
	for _, key := range []string{"k0", "k2", "k3"} {
		if _, ok := cache.Get(ctx, key); !ok {
			t.Fatalf("%s evicted, want retained", key)
		}
	}
	if stats := cache.Stats(); stats.Evictions != 1 {
		t.Fatalf("evictions = %d, want 1", stats.Evictions)
	}
}

func TestMemoryQuoteCachePutUpdatesExistingEntry(t *testing.T) {
	cache := NewMemoryQuoteCache(time.Hour, 2, nil)
	ctx := context.Background()

	cache.Put(ctx, "k", breakdownWithTotal(100))
	cache.Put(ctx, "k", breakdownWithTotal(200))

	got, ok := cache.Get(ctx, "k")
	if !ok {
		t.Fatal("updated entry missed")
	}
	if got.Total != 200 {
		t.Fatalf("total = %d, want 200", got.Total)
	}
	if stats := cache.Stats(); stats.Size != 1 {
		t.Fatalf("size = %d, want 1", stats.Size)
	}
}

func TestMemoryQuoteCacheStats(t *testing.T) {
	cache := NewMemoryQuoteCache(time.Hour, 5, nil)
	ctx := context.Background()

	cache.Get(ctx, "missing")
	cache.Put(ctx, "k", breakdownWithTotal(1))
	cache.Get(ctx, "k")
	cache.Get(ctx, "k")

	stats := cache.Stats()
	if stats.Hits != 2 {
		t.Fatalf("hits = %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Fatalf("misses = %d, want 1", stats.Misses)
	}
	if stats.Capacity != 5 {
		t.Fatalf("capacity = %d, want 5", stats.Capacity)
	}
}

func TestMemoryQuoteCachePurge(t *testing.T) {
	cache := NewMemoryQuoteCache(time.Hour, 5, nil)
	ctx := context.Background()

	cache.Put(ctx, "a", breakdownWithTotal(1))
	cache.Put(ctx, "b", breakdownWithTotal(2))
	cache.Purge()

	if _, ok := cache.Get(ctx, "a"); ok {
		t.Fatal("entry survived purge")
	}
	if stats := cache.Stats(); stats.Size != 0 {
		t.Fatalf("size = %d, want 0", stats.Size)
	}
}
