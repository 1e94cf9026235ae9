package pricing

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deskforge/api/internal/domain"
)

// RedisQuoteCache is the shared-store QuoteCache implementation for
// multi-replica deployments. TTL expiry is native to Redis; capacity-based
// LRU eviction is delegated to the server's maxmemory-policy (allkeys-lru).
type RedisQuoteCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisQuoteCache constructs a Redis-backed quote cache.
func NewRedisQuoteCache(client *redis.Client, ttl time.Duration, prefix string) *RedisQuoteCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "pricecache"
	}
	return &RedisQuoteCache{client: client, ttl: ttl, prefix: prefix}
}

type cachedQuote struct {
	Material      string  `json:"material"`
	WidthCm       float64 `json:"width_cm"`
	DepthCm       float64 `json:"depth_cm"`
	HeightCm      float64 `json:"height_cm"`
	VolumeM3      float64 `json:"volume_m3"`
	MaterialCost  int64   `json:"material_cost"`
	BaseFee       int64   `json:"base_fee"`
	ShippingFee   int64   `json:"shipping_fee"`
	Subtotal      int64   `json:"subtotal"`
	Tax           int64   `json:"tax"`
	Total         int64   `json:"total"`
	Mode          string  `json:"mode"`
	PolicyVersion string  `json:"policy_version"`
}

// Get returns the cached breakdown. Backend errors are treated as misses so a
// Redis outage degrades to recomputation instead of failing requests.
func (c *RedisQuoteCache) Get(ctx context.Context, key string) (domain.PriceBreakdown, bool) {
	if c == nil || c.client == nil {
		return domain.PriceBreakdown{}, false
	}
	raw, err := c.client.Get(ctx, c.prefix+":"+key).Bytes()
	if err != nil {
		c.misses.Add(1)
		return domain.PriceBreakdown{}, false
	}

	var quote cachedQuote
	if err := json.Unmarshal(raw, &quote); err != nil {
		c.misses.Add(1)
		return domain.PriceBreakdown{}, false
	}

	c.hits.Add(1)
	return domain.PriceBreakdown{
		Material:      domain.Material(quote.Material),
		Dimensions:    domain.Dimensions{WidthCm: quote.WidthCm, DepthCm: quote.DepthCm, HeightCm: quote.HeightCm},
		VolumeM3:      quote.VolumeM3,
		MaterialCost:  quote.MaterialCost,
		BaseFee:       quote.BaseFee,
		ShippingFee:   quote.ShippingFee,
		Subtotal:      quote.Subtotal,
		Tax:           quote.Tax,
		Total:         quote.Total,
		Mode:          domain.PricingMode(quote.Mode),
		PolicyVersion: quote.PolicyVersion,
	}, true
}

// Put stores the breakdown with the configured TTL. Write failures are
// dropped; the next Get recomputes.
func (c *RedisQuoteCache) Put(ctx context.Context, key string, breakdown domain.PriceBreakdown) {
	if c == nil || c.client == nil {
		return
	}
	quote := cachedQuote{
		Material:      string(breakdown.Material),
		WidthCm:       breakdown.Dimensions.WidthCm,
		DepthCm:       breakdown.Dimensions.DepthCm,
		HeightCm:      breakdown.Dimensions.HeightCm,
		VolumeM3:      breakdown.VolumeM3,
		MaterialCost:  breakdown.MaterialCost,
		BaseFee:       breakdown.BaseFee,
		ShippingFee:   breakdown.ShippingFee,
		Subtotal:      breakdown.Subtotal,
		Tax:           breakdown.Tax,
		Total:         breakdown.Total,
		Mode:          string(breakdown.Mode),
		PolicyVersion: breakdown.PolicyVersion,
	}
	raw, err := json.Marshal(quote)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+":"+key, raw, c.ttl).Err()
}

// Stats returns the locally observed hit/miss counters. Size and eviction
// counts live on the Redis server and are not tracked per replica.
func (c *RedisQuoteCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

// Purge is a no-op for the shared store; entries expire via TTL.
func (c *RedisQuoteCache) Purge() {}

var _ QuoteCache = (*RedisQuoteCache)(nil)
