package goGuard

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrEthical07/goGuard/internal/lock"
	"github.com/MrEthical07/goGuard/internal/lockout"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/tokens"
)

var (
	// ErrRateLimited indicates an active penalty for the identity and route.
	ErrRateLimited = errors.New("rate limited")
	// ErrAccountLocked indicates the account is blocked until its lockout expires.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive indicates a deactivated account.
	ErrAccountInactive = errors.New("account inactive")
	// ErrInvalidCredentials is returned for an unknown identifier or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by a UserStore when the user does not exist.
	ErrUserNotFound = lockout.ErrUserNotFound

	// ErrTokenInvalid indicates a malformed, badly signed or expired token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenRevoked indicates the token id is no longer registered.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenBindingMismatch indicates the request IP or user agent differs from the token's.
	ErrTokenBindingMismatch = errors.New("token binding mismatch")
	// ErrTokenTypeInvalid indicates a token type other than access or refresh.
	ErrTokenTypeInvalid = errors.New("invalid token type")
	// ErrRefreshTokenNotAllowed is returned when a refresh token is used as an access token.
	ErrRefreshTokenNotAllowed = errors.New("refresh token not allowed")

	// ErrLockTimeout indicates a distributed lock could not be obtained in time.
	ErrLockTimeout = errors.New("lock timeout")
	// ErrStoreUnavailable indicates the counter store or user store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrBrokerUnavailable indicates an event could not be published.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrEngineNotReady indicates a collaborator required by the call was not configured.
	ErrEngineNotReady = errors.New("engine not ready")
)

// RateLimitError is returned by the admission check while a penalty is active.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: try again in %d minutes", e.RetryAfterMinutes())
}

// Unwrap exposes ErrRateLimited to errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfterMinutes rounds the wait up to whole minutes, with a minimum of one.
func (e *RateLimitError) RetryAfterMinutes() int {
	if e.RetryAfter <= 0 {
		return 1
	}
	minutes := int(math.Ceil(e.RetryAfter.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// RetryAfterSeconds rounds the wait up to whole seconds, with a minimum of one.
func (e *RateLimitError) RetryAfterSeconds() int {
	seconds := int(math.Ceil(e.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// LockoutError is returned for a blocked account whose lockout has not expired.
type LockoutError struct {
	Remaining time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account locked: try again in %d seconds", e.RemainingSeconds())
}

// Unwrap exposes ErrAccountLocked to errors.Is.
func (e *LockoutError) Unwrap() error {
	return ErrAccountLocked
}

// RemainingSeconds rounds the remaining lockout up to whole seconds.
func (e *LockoutError) RemainingSeconds() int {
	seconds := int(math.Ceil(e.Remaining.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// mapInternal translates errors of the internal packages to the public
// sentinels, keeping the cause in the message.
func mapInternal(err error) error {
	if err == nil {
		return nil
	}

	var penalty *rate.PenaltyError
	switch {
	case errors.As(err, &penalty):
		return &RateLimitError{RetryAfter: penalty.RetryAfter}
	case errors.Is(err, tokens.ErrInvalid):
		return ErrTokenInvalid
	case errors.Is(err, tokens.ErrRevoked):
		return ErrTokenRevoked
	case errors.Is(err, tokens.ErrBindingMismatch):
		return ErrTokenBindingMismatch
	case errors.Is(err, tokens.ErrInvalidType):
		return ErrTokenTypeInvalid
	case errors.Is(err, lock.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	case errors.Is(err, rate.ErrRedisUnavailable),
		errors.Is(err, tokens.ErrRedisUnavailable),
		errors.Is(err, tokens.ErrDuplicateID),
		errors.Is(err, lock.ErrRedisUnavailable),
		errors.Is(err, lockout.ErrCounterUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}

// IsTransient reports whether err is an infrastructure failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrBrokerUnavailable)
}
