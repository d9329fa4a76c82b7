package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goGuard/internal/keys"
	"github.com/MrEthical07/goGuard/internal/lockout"
)

// Authenticate checks identifier (username or email) and password against
// the user store.
//
// An unknown identifier and a wrong password both yield
// ErrInvalidCredentials; only the latter publishes a failed-login event. A
// blocked account whose lockout has not expired yields a *LockoutError
// before the password is looked at. A successful check resets the failure
// counter and clears any lockout left on the row.
func (e *Engine) Authenticate(ctx context.Context, identifier, password string) (*UserRecord, error) {
	if e.users == nil || e.passwords == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{identity: identifier}, ErrInvalidCredentials)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if remaining := user.LockedUntil(e.now()); remaining > 0 {
		lockErr := &LockoutError{Remaining: remaining}
		e.metricInc(MetricLoginRejectedLocked)
		e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{userID: user.ID}, lockErr)
		return nil, lockErr
	}
	if !user.IsActive {
		e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{userID: user.ID}, ErrAccountInactive)
		return nil, ErrAccountInactive
	}

	ok, err := e.passwords.Verify(password, user.PasswordHash)
	if err != nil {
		e.logger.ErrorContext(ctx, "password verification failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		ok = false
	}
	if !ok {
		e.metricInc(MetricLoginFailure)
		if err := e.RecordFailedLogin(ctx, user.ID); err != nil {
			e.logger.WarnContext(ctx, "failed-login event not published",
				slog.String("user_id", user.ID),
				slog.Any("error", err),
			)
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{userID: user.ID}, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	if err := e.clearFailures(ctx, user); err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, auditFields{userID: user.ID}, nil)
	return user, nil
}

// clearFailures resets the failure counter and, when the row still carries a
// lockout, clears it. Both happen under the same lock the lockout worker
// takes, so a concurrent failure is applied before or after, never between.
func (e *Engine) clearFailures(ctx context.Context, user *UserRecord) error {
	err := e.locker.WithLock(ctx, keys.UserLock(user.ID), func(ctx context.Context) error {
		if err := e.counter.Reset(ctx, user.ID); err != nil {
			return err
		}
		if !user.IsBlocked && user.LockoutExpiresAt.IsZero() {
			return nil
		}
		return e.users.UpdateLockout(ctx, user.ID, func(state *LockoutState) (bool, error) {
			if !state.Blocked && state.ExpiresAt.IsZero() {
				return false, nil
			}
			state.Blocked = false
			state.ExpiresAt = time.Time{}
			return true, nil
		})
	})
	if err != nil {
		return mapInternal(err)
	}

	user.IsBlocked = false
	user.LockoutExpiresAt = time.Time{}
	return nil
}

// Login authenticates and issues an access and a refresh token bound to the
// client IP and user agent carried by ctx.
func (e *Engine) Login(ctx context.Context, identifier, password string, rememberMe bool) (TokenPair, error) {
	user, err := e.Authenticate(ctx, identifier, password)
	if err != nil {
		return TokenPair{}, err
	}

	ip, ua := ClientIPFromContext(ctx), UserAgentFromContext(ctx)

	access, accessClaims, err := e.IssueToken(ctx, IssueRequest{
		UserID:     user.ID,
		TokenType:  TokenTypeAccess,
		IP:         ip,
		UserAgent:  ua,
		RememberMe: rememberMe,
	})
	if err != nil {
		return TokenPair{}, err
	}

	refresh, refreshClaims, err := e.IssueToken(ctx, IssueRequest{
		UserID:    user.ID,
		TokenType: TokenTypeRefresh,
		IP:        ip,
		UserAgent: ua,
	})
	if err != nil {
		_ = e.tokens.Revoke(ctx, accessClaims.ID, TokenTypeAccess)
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessID:     accessClaims.ID,
		RefreshID:    refreshClaims.ID,
		ExpiresAt:    accessClaims.ExpiresAt.Time,
		UserID:       user.ID,
	}, nil
}

// Logout verifies token against the binding in ctx and revokes it.
func (e *Engine) Logout(ctx context.Context, token string) error {
	claims, err := e.VerifyToken(ctx, token, ClientIPFromContext(ctx), UserAgentFromContext(ctx))
	if err != nil {
		return err
	}
	return e.RevokeToken(ctx, claims.ID, claims.TokenType)
}

// CurrentActiveUser resolves an access token to its user. Refresh tokens,
// blocked accounts and inactive accounts are rejected.
func (e *Engine) CurrentActiveUser(ctx context.Context, token string) (*UserRecord, error) {
	if e.users == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.VerifyToken(ctx, token, ClientIPFromContext(ctx), UserAgentFromContext(ctx))
	if err != nil {
		return nil, err
	}
	if claims.TokenType == TokenTypeRefresh {
		e.emitAudit(ctx, auditEventTokenRejected, false, auditFields{
			userID:  claims.UserID,
			tokenID: claims.ID,
		}, ErrRefreshTokenNotAllowed)
		return nil, ErrRefreshTokenNotAllowed
	}

	user, err := e.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if remaining := user.LockedUntil(e.now()); remaining > 0 {
		return nil, &LockoutError{Remaining: remaining}
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}
	return user, nil
}

// lockoutStore adapts a UserStore to the lockout worker.
type lockoutStore struct {
	users UserStore
}

func (s lockoutStore) UpdateLockout(ctx context.Context, userID string, fn func(*lockout.State) (bool, error)) error {
	return s.users.UpdateLockout(ctx, userID, func(state *LockoutState) (bool, error) {
		internal := lockout.State{Blocked: state.Blocked, ExpiresAt: state.ExpiresAt}
		changed, err := fn(&internal)
		if err != nil || !changed {
			return false, err
		}
		state.Blocked = internal.Blocked
		state.ExpiresAt = internal.ExpiresAt
		return true, nil
	})
}
