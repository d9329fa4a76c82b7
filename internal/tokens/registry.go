package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/internal/keys"
	"github.com/redis/go-redis/v9"
)

// Registry stores the set of live token ids. A token whose id is missing
// from the registry is unusable regardless of its signature.
type Registry struct {
	redis redis.UniversalClient
}

// NewRegistry creates a Registry backed by the given Redis client.
func NewRegistry(redisClient redis.UniversalClient) *Registry {
	return &Registry{redis: redisClient}
}

// Register records jti as active for ttl. Registering an id that is already
// present fails with ErrDuplicateID, so an id can never be reissued while live.
func (r *Registry) Register(ctx context.Context, jti, tokenType string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("registry ttl must be > 0")
	}
	data, err := Encode(entry)
	if err != nil {
		return err
	}

	ok, err := r.redis.SetNX(ctx, keys.ActiveToken(jti, tokenType), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !ok {
		return ErrDuplicateID
	}
	return nil
}

// Lookup returns the entry of jti. A missing or unreadable entry reports
// found == false.
func (r *Registry) Lookup(ctx context.Context, jti, tokenType string) (*Entry, bool, error) {
	data, err := r.redis.Get(ctx, keys.ActiveToken(jti, tokenType)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	entry, err := Decode(data)
	if err != nil || entry.Status != StatusActive {
		return nil, false, nil
	}
	return entry, true, nil
}

// Revoke deletes the entry of jti. Revoking an absent id is not an error.
func (r *Registry) Revoke(ctx context.Context, jti, tokenType string) error {
	if err := r.redis.Del(ctx, keys.ActiveToken(jti, tokenType)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
