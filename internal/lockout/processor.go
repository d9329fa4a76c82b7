package lockout

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGuard/internal/keys"
)

var (
	// ErrUserNotFound is returned by a Store when the user row does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// State is the lockout portion of a user row.
type State struct {
	Blocked   bool
	ExpiresAt time.Time
}

// Store performs a row-locked read-modify-write of a user's lockout state.
// fn receives the current state and reports whether it changed; the store
// commits only when it did.
type Store interface {
	UpdateLockout(ctx context.Context, userID string, fn func(state *State) (bool, error)) error
}

// Locker serializes work on a named resource across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Config holds lockout policy parameters.
type Config struct {
	Threshold       int
	InitialDuration time.Duration
	MaxDuration     time.Duration
}

// Action tells what a processed failure did to the account.
type Action uint8

const (
	// ActionNone means the failure was counted without changing the account.
	ActionNone Action = iota
	// ActionLocked means the account was blocked for the initial duration.
	ActionLocked
	// ActionEscalated means an already blocked account got a longer lockout.
	ActionEscalated
)

// Result describes the outcome of a processed failure.
type Result struct {
	Failures  int
	Action    Action
	ExpiresAt time.Time
}

// Processor applies failed-login events to the counter and the user row.
type Processor struct {
	counter *Counter
	store   Store
	locker  Locker
	config  Config
	now     func() time.Time
}

// NewProcessor creates a lockout Processor.
func NewProcessor(counter *Counter, store Store, locker Locker, cfg Config) *Processor {
	return &Processor{
		counter: counter,
		store:   store,
		locker:  locker,
		config:  cfg,
		now:     time.Now,
	}
}

// Process records one failed login for userID and locks or escalates the
// account once the failure count reaches the threshold. The counter keeps
// running across escalations so each multiple of the threshold doubles the
// lockout; it is cleared by a successful login or its TTL.
func (p *Processor) Process(ctx context.Context, userID string) (Result, error) {
	if userID == "" {
		return Result{}, ErrUserNotFound
	}

	var res Result
	err := p.locker.WithLock(ctx, keys.UserLock(userID), func(ctx context.Context) error {
		failures, err := p.counter.Increment(ctx, userID)
		if err != nil {
			return err
		}
		res.Failures = failures
		if failures < p.config.Threshold {
			return nil
		}

		err = p.store.UpdateLockout(ctx, userID, func(state *State) (bool, error) {
			now := p.now()
			if !state.Blocked {
				state.Blocked = true
				state.ExpiresAt = now.Add(p.config.InitialDuration)
				res.Action = ActionLocked
				res.ExpiresAt = state.ExpiresAt
				return true, nil
			}
			if failures%p.config.Threshold != 0 {
				return false, nil
			}

			penalty := EscalatedPenalty(failures, p.config.Threshold, p.config.InitialDuration, p.config.MaxDuration)
			expires := now.Add(penalty)
			if !expires.After(state.ExpiresAt) {
				// An escalation never shortens the active lockout.
				return false, nil
			}
			state.ExpiresAt = expires
			res.Action = ActionEscalated
			res.ExpiresAt = state.ExpiresAt
			return true, nil
		})
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				// Nothing to lock; drop the counter so it does not linger.
				_ = p.counter.Reset(ctx, userID)
			}
			res.Action = ActionNone
			return err
		}

		return nil
	})
	return res, err
}
