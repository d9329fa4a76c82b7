package goGuard

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const (
	auditEventAdmissionRejected = "admission_rejected"
	auditEventPenaltyApplied    = "penalty_applied"
	auditEventLoginSuccess      = "login_success"
	auditEventLoginFailure      = "login_failure"
	auditEventAccountLocked     = "account_locked"
	auditEventLockoutEscalated  = "lockout_escalated"
	auditEventTokenRejected     = "token_rejected"
	auditEventTokenRevoked      = "token_revoked"
)

// AuditErrorCode is the stable, machine-readable error of an audit event.
type AuditErrorCode string

const (
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRevokedToken       AuditErrorCode = "revoked_token"
	auditErrBindingMismatch    AuditErrorCode = "binding_mismatch"
	auditErrRefreshNotAllowed  AuditErrorCode = "refresh_not_allowed"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// auditFields carries the optional attributes of an event.
type auditFields struct {
	userID   string
	identity string
	route    string
	tokenID  string
	metadata func() map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, fields auditFields, err error) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if fields.metadata != nil {
		metadata = fields.metadata()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    fields.userID,
		Identity:  fields.identity,
		Route:     fields.route,
		TokenID:   fields.tokenID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenTypeInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenRevoked):
		return auditErrRevokedToken
	case errors.Is(err, ErrTokenBindingMismatch):
		return auditErrBindingMismatch
	case errors.Is(err, ErrRefreshTokenNotAllowed):
		return auditErrRefreshNotAllowed
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrBrokerUnavailable),
		errors.Is(err, ErrLockTimeout):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// durationMetadata formats d as whole seconds for audit metadata.
func durationMetadata(key string, d time.Duration) func() map[string]string {
	return func() map[string]string {
		return map[string]string{key: strconv.FormatInt(int64(d/time.Second), 10)}
	}
}
