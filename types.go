package goGuard

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/jwt"
)

// Token types accepted by IssueToken, VerifyToken and RevokeToken.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the verified payload of a guard token.
type Claims = jwt.Claims

// UserRecord is the view of a user row the engine needs.
type UserRecord struct {
	ID               string
	Username         string
	Email            string
	PasswordHash     string
	IsActive         bool
	IsBlocked        bool
	LockoutExpiresAt time.Time // zero when unset
}

// LockedUntil returns the remaining lockout at now, or zero when the
// account is not actively blocked. An expired lockout counts as cleared.
func (u *UserRecord) LockedUntil(now time.Time) time.Duration {
	if u == nil || !u.IsBlocked || u.LockoutExpiresAt.IsZero() {
		return 0
	}
	if remaining := u.LockoutExpiresAt.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// LockoutState is the lockout portion of a user row.
type LockoutState struct {
	Blocked   bool
	ExpiresAt time.Time // zero clears lockout_expires_at
}

// UserStore is the relational user store. Lookups return ErrUserNotFound
// for a missing user.
//
// UpdateLockout locks the row of userID, passes its lockout state to fn and
// writes the state back when fn reports a change, all inside one
// transaction. fn may run at most once per call.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*UserRecord, error)
	GetUserByIdentifier(ctx context.Context, identifier string) (*UserRecord, error)
	UpdateLockout(ctx context.Context, userID string, fn func(state *LockoutState) (bool, error)) error
}

// PasswordVerifier checks a plaintext password against a stored hash.
type PasswordVerifier interface {
	Verify(password, encodedHash string) (bool, error)
}

// TokenPair is the result of a successful Login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessID     string
	RefreshID    string
	ExpiresAt    time.Time
	UserID       string
}

// IssueRequest describes a token to mint.
type IssueRequest struct {
	UserID     string
	TokenType  string
	IP         string
	UserAgent  string
	RememberMe bool
}
