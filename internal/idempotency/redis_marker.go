package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMarker uses SET NX EX against a shared Redis.
type RedisMarker struct {
	client redis.Cmdable
}

func NewRedisMarker(client redis.Cmdable) *RedisMarker {
	return &RedisMarker{client: client}
}

func (m *RedisMarker) Name() string { return "redis" }

func (m *RedisMarker) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.client.SetNX(ctx, key, "1", ttl).Result()
}

func (m *RedisMarker) Release(ctx context.Context, key string) error {
	return m.client.Del(ctx, key).Err()
}
