package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"overunder/internal/oracle"
)

// PriceCache implements oracle.PriceCache using Redis hashes at
// "{prefix}price:{assetID}" with fields "price" and "ts" (unix nanoseconds).
type PriceCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPriceCache creates a PriceCache. Keys expire after ttl when ttl > 0.
func NewPriceCache(c *Client, prefix string, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), prefix: prefix, ttl: ttl}
}

func (pc *PriceCache) priceKey(assetID string) string {
	return pc.prefix + "price:" + assetID
}

// SetPrice stores the latest price and timestamp for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error {
	key := pc.priceKey(assetID)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice returns the cached price of an asset, or oracle.ErrCacheMiss.
func (pc *PriceCache) GetPrice(ctx context.Context, assetID string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, pc.priceKey(assetID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, oracle.ErrCacheMiss
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, oracle.ErrCacheMiss
	}

	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", assetID, err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", assetID, err)
	}
	return price, time.Unix(0, tsNano), nil
}

var _ oracle.PriceCache = (*PriceCache)(nil)
