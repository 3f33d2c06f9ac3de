package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a CounterStore shared across instances through Redis
type RedisStore struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed counter store
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gatekeeper:ratelimit"
	}
	return &RedisStore{redis: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// Increment implements CounterStore. The window starts at the first hit.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	redisKey := s.redisKey(key)

	pipe := s.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("redis error: %w", err)
	}

	ttl := pttl.Val()
	if ttl <= 0 {
		if err := s.redis.PExpire(ctx, redisKey, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("redis error: %w", err)
		}
		ttl = window
	}

	return incr.Val(), s.now().Add(ttl), nil
}

// Decrement implements CounterStore
func (s *RedisStore) Decrement(ctx context.Context, key string) error {
	redisKey := s.redisKey(key)
	n, err := s.redis.Decr(ctx, redisKey).Result()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if n < 0 {
		return s.redis.Set(ctx, redisKey, 0, redis.KeepTTL).Err()
	}
	return nil
}

// Reset clears the counter for a key
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.redis.Del(ctx, s.redisKey(key)).Err()
}

// HealthCheck verifies Redis connectivity
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
