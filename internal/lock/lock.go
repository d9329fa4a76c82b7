// Package lock provides a Redis-backed mutual exclusion primitive used by the
// workers to serialize read-modify-write cycles on shared counters.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrTimeout indicates the lock could not be obtained within the wait budget.
	ErrTimeout = errors.New("lock acquisition timed out")
	// ErrRedisUnavailable indicates the lock backend could not be reached.
	ErrRedisUnavailable = errors.New("lock backend unavailable")
)

// Config holds lock tuning parameters.
type Config struct {
	// Timeout bounds how long WithLock waits for the lock.
	Timeout time.Duration
	// TTL is the auto-release period of a held lock.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
}

// Locker obtains named locks from Redis.
type Locker struct {
	client *redislock.Client
	config Config
}

// New creates a [Locker] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Locker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	return &Locker{
		client: redislock.New(redisClient),
		config: cfg,
	}
}

// WithLock runs fn while holding the lock named key. The lock is released on
// every return path, including a panic in fn. When the lock cannot be
// obtained within the configured timeout, fn is not called and ErrTimeout is
// returned.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	obtainCtx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	held, err := l.client.Obtain(obtainCtx, key, l.config.TTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.config.RetryInterval),
	})
	if err != nil {
		switch {
		case errors.Is(err, redislock.ErrNotObtained),
			errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return fmt.Errorf("%w: %s", ErrTimeout, key)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	defer func() {
		// A lock that expired under us is already gone; nothing to release.
		_ = held.Release(context.WithoutCancel(ctx))
	}()

	return fn(ctx)
}
