package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quantfold/dexmaker/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each pair's
// last accepted price is stored at key "price:{pair}" with fields "price",
// "confidence" and "ts" (Unix nanosecond timestamp). The oracle writes
// through after every accepted aggregation; nothing in the trading path
// reads it back.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client. Entries
// expire after ttl so a dead process does not leave stale prices behind.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.rdb, ttl: ttl}
}

func priceKey(pair string) string {
	return "price:" + pair
}

// SetPrice stores the latest accepted price for a pair.
func (pc *PriceCache) SetPrice(ctx context.Context, pair string, price decimal.Decimal, confidence float64, ts time.Time) error {
	key := priceKey(pair)
	fields := map[string]interface{}{
		"price":      price.String(),
		"confidence": strconv.FormatFloat(confidence, 'f', -1, 64),
		"ts":         strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", pair, err)
	}
	return nil
}
