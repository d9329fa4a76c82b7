package queue

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/internal/keys"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/redis/go-redis/v9"
)

// AttemptTracker counts failed processing attempts per message id.
type AttemptTracker interface {
	Increment(ctx context.Context, messageID string) (int, error)
	Forget(ctx context.Context, messageID string) error
}

// RedisAttempts stores attempt counters in Redis so that every consumer
// instance sees the same count for a redelivered message.
type RedisAttempts struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// NewRedisAttempts creates a tracker whose counters expire after ttl.
func NewRedisAttempts(redisClient redis.UniversalClient, ttl time.Duration) *RedisAttempts {
	return &RedisAttempts{redis: redisClient, ttl: ttl}
}

// Increment records one failed attempt and returns the total.
func (a *RedisAttempts) Increment(ctx context.Context, messageID string) (int, error) {
	n, err := rate.IncrementWithTTL(ctx, a.redis, keys.DeliveryAttempts(messageID), a.ttl)
	return int(n), err
}

// Forget drops the counter of a settled message.
func (a *RedisAttempts) Forget(ctx context.Context, messageID string) error {
	return a.redis.Del(ctx, keys.DeliveryAttempts(messageID)).Err()
}
