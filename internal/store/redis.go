package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tradeforge/internal/domain"
)

var _ BarCache = (*RedisBarCache)(nil)

// DefaultBarTTL is how long a cached bar range lives.
const DefaultBarTTL = 15 * time.Minute

// RedisBarCache caches bar ranges as JSON values keyed by symbol and range.
type RedisBarCache struct {
	c   *redis.Client
	ttl time.Duration
}

// NewRedisBarCache connects to addr. A zero ttl uses DefaultBarTTL.
func NewRedisBarCache(addr, password string, db int, ttl time.Duration) *RedisBarCache {
	return NewRedisBarCacheFromClient(redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), ttl)
}

// NewRedisBarCacheFromClient wraps an existing client.
func NewRedisBarCacheFromClient(c *redis.Client, ttl time.Duration) *RedisBarCache {
	if ttl <= 0 {
		ttl = DefaultBarTTL
	}
	return &RedisBarCache{c: c, ttl: ttl}
}

// Ping checks connectivity.
func (r *RedisBarCache) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisBarCache) Close() error {
	return r.c.Close()
}

// barKey names a daily range by its UTC calendar dates.
func barKey(symbol string, start, end time.Time) string {
	const day = "2006-01-02"
	return fmt.Sprintf("tradeforge:bars:%s:%s:%s", strings.ToUpper(symbol), start.UTC().Format(day), end.UTC().Format(day))
}

// GetBars returns the cached range. A miss is (nil, false, nil).
func (r *RedisBarCache) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, bool, error) {
	val, err := r.c.Get(ctx, barKey(symbol, start, end)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached bars for %s: %w", symbol, err)
	}
	var bars []domain.Bar
	if err := json.Unmarshal(val, &bars); err != nil {
		return nil, false, fmt.Errorf("decoding cached bars for %s: %w", symbol, err)
	}
	return bars, true, nil
}

// SetBars caches a range for the configured TTL.
func (r *RedisBarCache) SetBars(ctx context.Context, symbol string, start, end time.Time, bars []domain.Bar) error {
	val, err := json.Marshal(bars)
	if err != nil {
		return err
	}
	if err := r.c.Set(ctx, barKey(symbol, start, end), val, r.ttl).Err(); err != nil {
		return fmt.Errorf("caching bars for %s: %w", symbol, err)
	}
	return nil
}
