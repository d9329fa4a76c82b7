package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/internal/keys"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCounterUnavailable indicates the failure counter backend is unreachable.
	ErrCounterUnavailable = errors.New("lockout counter backend unavailable")
)

// Counter tracks failed login attempts per user.
type Counter struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// NewCounter creates a failure counter whose entries live for ttl after the
// first failure.
func NewCounter(redisClient redis.UniversalClient, ttl time.Duration) *Counter {
	return &Counter{redis: redisClient, ttl: ttl}
}

// Increment adds one failure for userID and returns the new count.
func (c *Counter) Increment(ctx context.Context, userID string) (int, error) {
	count, err := rate.IncrementWithTTL(ctx, c.redis, keys.LoginFailures(userID), c.ttl)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return int(count), nil
}

// Reset clears the failure counter for a user after a successful login or
// when the user row is gone.
func (c *Counter) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}

	if err := c.redis.Del(ctx, keys.LoginFailures(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return nil
}

// Count returns the current failure count for a user.
func (c *Counter) Count(ctx context.Context, userID string) (int, error) {
	count, err := c.redis.Get(ctx, keys.LoginFailures(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return int(count), nil
}
