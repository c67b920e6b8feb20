package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

// RedisStatusCache fronts the status endpoint so polling browsers do not hit
// MySQL and the provider APIs on every tick. Only terminal statuses are
// worth caching.
type RedisStatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStatusCache(rdb *redis.Client, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{rdb: rdb, ttl: ttl}
}

var _ usecase.StatusCache = (*RedisStatusCache)(nil)

func statusKey(orderID string) string { return "order:status:" + orderID }

func (c *RedisStatusCache) SetStatus(ctx context.Context, orderID string, status domain.Status) error {
	if !status.Terminal() {
		return nil
	}
	return c.rdb.Set(ctx, statusKey(orderID), string(status), c.ttl).Err()
}

func (c *RedisStatusCache) GetStatus(ctx context.Context, orderID string) (domain.Status, bool, error) {
	val, err := c.rdb.Get(ctx, statusKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domain.Status(val), true, nil
}
