package rate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/internal/keys"
	"github.com/redis/go-redis/v9"
)

// RouteLimit is the throttling policy of a single route.
type RouteLimit struct {
	MaxAttempts int
	Penalty     time.Duration
}

// Config holds rate limiter tuning parameters.
type Config struct {
	// Window is the fixed counting window of attempts_count.
	Window time.Duration
	// Routes maps request paths to their policy.
	Routes map[string]RouteLimit
	// Fallback applies to routes missing from Routes.
	Fallback RouteLimit
}

// Limit resolves the policy of route, falling back to cfg.Fallback.
func (c Config) Limit(route string) RouteLimit {
	if limit, ok := c.Routes[route]; ok {
		return limit
	}
	return c.Fallback
}

var (
	// ErrRateLimited is matched by every PenaltyError.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps counter store failures.
	ErrRedisUnavailable = errors.New("rate counter store unavailable")
)

// PenaltyError reports an active penalty and the time left on it.
type PenaltyError struct {
	RetryAfter time.Duration
}

func (e *PenaltyError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// Unwrap exposes ErrRateLimited to errors.Is.
func (e *PenaltyError) Unwrap() error {
	return ErrRateLimited
}

// Limiter implements the read-only admission check and the worker side
// counter update of the per-route request throttle.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
		now:    time.Now,
	}
}

// Check returns a *PenaltyError when identity has an unexpired penalty on
// route. It performs a single read and never takes a lock.
func (l *Limiter) Check(ctx context.Context, identity, route string) error {
	end, ok, err := l.penaltyEnd(ctx, keys.PenaltyEnd(identity, route))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	remaining := end.Sub(l.now())
	if remaining <= 0 {
		return nil
	}
	return &PenaltyError{RetryAfter: remaining}
}

// Outcome describes what a Record call changed.
type Outcome struct {
	Attempts       int64
	PenaltyApplied bool
	PenaltyEnd     time.Time
}

// Record counts one request of identity on route and arms the penalty when
// the count reaches the route's maximum. Callers must hold the lock returned
// by keys.RateLock for the same pair.
func (l *Limiter) Record(ctx context.Context, identity, route string) (Outcome, error) {
	attempts, err := IncrementWithTTL(ctx, l.redis, keys.Attempts(identity, route), l.config.Window)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Attempts: attempts}
	limit := l.config.Limit(route)
	if limit.MaxAttempts <= 0 || attempts != int64(limit.MaxAttempts) {
		return out, nil
	}

	penaltyKey := keys.PenaltyEnd(identity, route)
	now := l.now()

	end, ok, err := l.penaltyEnd(ctx, penaltyKey)
	if err != nil {
		return out, err
	}
	if ok && end.After(now) {
		// An active penalty is never extended or shortened.
		return out, nil
	}

	end = now.Add(limit.Penalty)
	ttl := limit.Penalty
	if ttl < l.config.Window {
		ttl = l.config.Window
	}
	if err := l.redis.Set(ctx, penaltyKey, formatTimestamp(end), ttl).Err(); err != nil {
		return out, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out.PenaltyApplied = true
	out.PenaltyEnd = end
	return out, nil
}

func (l *Limiter) penaltyEnd(ctx context.Context, key string) (time.Time, bool, error) {
	raw, err := l.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	end, err := parseTimestamp(raw)
	if err != nil {
		// Unreadable values are treated as absent and get overwritten by the worker.
		return time.Time{}, false, nil
	}
	return end, true, nil
}

// incrWithTTLScript increments KEYS[1] and sets its expiry only on the first
// hit, so a counter can never outlive its window.
var incrWithTTLScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// IncrementWithTTL increments the fixed-window counter at key. The window
// starts with the first increment and lasts ttl.
func IncrementWithTTL(ctx context.Context, rdb redis.Scripter, key string, ttl time.Duration) (int64, error) {
	count, err := incrWithTTLScript.Run(ctx, rdb, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}

// Timestamps are stored as decimal Unix seconds with microsecond precision.
func formatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

func parseTimestamp(raw string) (time.Time, error) {
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, errors.New("invalid timestamp")
	}
	return time.UnixMicro(int64(math.Round(secs * 1e6))), nil
}
