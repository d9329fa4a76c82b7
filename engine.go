package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/internal/keys"
	"github.com/MrEthical07/goGuard/internal/lock"
	"github.com/MrEthical07/goGuard/internal/lockout"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/tokens"
	"github.com/MrEthical07/goGuard/queue"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// Engine is the guard facade used by the HTTP layer and the workers.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config Config
	logger *slog.Logger
	redis  redis.UniversalClient

	limiter   *rate.Limiter
	locker    *lock.Locker
	counter   *lockout.Counter
	processor *lockout.Processor
	tokens    *tokens.Manager

	users     UserStore
	passwords PasswordVerifier
	publisher queue.Publisher
	attempts  *queue.RedisAttempts

	audit          *auditDispatcher
	metrics        *Metrics
	tracerProvider trace.TracerProvider
	now            func() time.Time
}

// Close drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the live counters to exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Ping reports whether the counter store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
ADMISSION
====================================
*/

// AdmissionCheck rejects the request when identity has an active penalty on
// route. It only reads; counting happens in the rate limit worker. The
// result is a *RateLimitError while a penalty runs and wraps
// ErrStoreUnavailable when the counter store cannot be read.
func (e *Engine) AdmissionCheck(ctx context.Context, identity, route string) error {
	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
		defer func() {
			e.metrics.Observe(MetricAdmissionLatency, time.Since(start))
		}()
	}

	err := mapInternal(e.limiter.Check(ctx, identity, route))
	switch {
	case err == nil:
		e.metricInc(MetricAdmissionAllowed)
		return nil
	case errors.Is(err, ErrRateLimited):
		e.metricInc(MetricAdmissionRejected)
		var rl *RateLimitError
		errors.As(err, &rl)
		e.emitAudit(ctx, auditEventAdmissionRejected, false, auditFields{
			identity: identity,
			route:    route,
			metadata: durationMetadata("retry_after_seconds", rl.RetryAfter),
		}, err)
		return err
	default:
		e.metricInc(MetricAdmissionUnavailable)
		return err
	}
}

// Admit runs AdmissionCheck and, when the request is let through, publishes
// its request event. A failed publish is logged and counted but does not
// reject the request.
func (e *Engine) Admit(ctx context.Context, identity, route string) error {
	if err := e.AdmissionCheck(ctx, identity, route); err != nil {
		return err
	}

	if err := e.PublishRequest(ctx, identity, route); err != nil {
		e.logger.WarnContext(ctx, "request event not published",
			slog.String("identity", identity),
			slog.String("route", route),
			slog.Any("error", err),
		)
	}
	return nil
}

// PublishRequest hands an "identity,route" event to the rate limit queue.
func (e *Engine) PublishRequest(ctx context.Context, identity, route string) error {
	msg := queue.NewMessage(queue.EncodeRateLimitEvent(identity, route))
	if err := e.publish(ctx, queue.RateLimitTopology, msg); err != nil {
		return err
	}
	e.metricInc(MetricRateEventPublished)
	return nil
}

// RecordRequest counts one request of identity on route under the pair's
// distributed lock and arms the penalty on the exact threshold crossing.
// The rate limit worker calls it for every event.
func (e *Engine) RecordRequest(ctx context.Context, identity, route string) (rate.Outcome, error) {
	var out rate.Outcome
	err := e.locker.WithLock(ctx, keys.RateLock(identity, route), func(ctx context.Context) error {
		var err error
		out, err = e.limiter.Record(ctx, identity, route)
		return err
	})
	if err != nil {
		return out, mapInternal(err)
	}

	e.metricInc(MetricRateEventProcessed)
	if out.PenaltyApplied {
		e.metricInc(MetricPenaltyApplied)
	}
	return out, nil
}

/*
====================================
LOCKOUT
====================================
*/

// RecordFailedLogin publishes a failed-login event for userID to the lockout
// queue.
func (e *Engine) RecordFailedLogin(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserNotFound
	}
	msg := queue.NewMessage(queue.EncodeLoginAttemptEvent(userID))
	if err := e.publish(ctx, queue.LoginAttemptTopology, msg); err != nil {
		return err
	}
	e.metricInc(MetricLoginEventPublished)
	return nil
}

// ProcessFailedLogin applies one failed login to the account. The lockout
// worker calls it for every event.
func (e *Engine) ProcessFailedLogin(ctx context.Context, userID string) (lockout.Result, error) {
	if e.processor == nil {
		return lockout.Result{}, ErrEngineNotReady
	}

	res, err := e.processor.Process(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return res, err
		}
		return res, mapInternal(err)
	}

	e.metricInc(MetricLockoutEventProcessed)
	switch res.Action {
	case lockout.ActionLocked:
		e.metricInc(MetricAccountLocked)
		e.emitAudit(ctx, auditEventAccountLocked, true, auditFields{
			userID:   userID,
			metadata: failureMetadata(res, e.now()),
		}, nil)
	case lockout.ActionEscalated:
		e.metricInc(MetricLockoutEscalated)
		e.emitAudit(ctx, auditEventLockoutEscalated, true, auditFields{
			userID:   userID,
			metadata: failureMetadata(res, e.now()),
		}, nil)
	}
	return res, nil
}

func failureMetadata(res lockout.Result, now time.Time) func() map[string]string {
	return func() map[string]string {
		return map[string]string{
			"failures":        strconv.Itoa(res.Failures),
			"lockout_seconds": strconv.FormatInt(int64(res.ExpiresAt.Sub(now)/time.Second), 10),
			"lockout_expires": res.ExpiresAt.UTC().Format(time.RFC3339),
		}
	}
}

/*
====================================
TOKENS
====================================
*/

// IssueToken signs a token for req and registers its id. The token string is
// only returned after registration succeeded.
func (e *Engine) IssueToken(ctx context.Context, req IssueRequest) (string, *Claims, error) {
	token, claims, err := e.tokens.Issue(ctx, tokens.IssueRequest{
		UserID:     req.UserID,
		Type:       req.TokenType,
		IP:         req.IP,
		UserAgent:  req.UserAgent,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		return "", nil, mapInternal(err)
	}
	e.metricInc(MetricTokenIssued)
	return token, claims, nil
}

// VerifyToken checks the signature and expiry of token, that its id is
// still registered, and that ip and userAgent match the ones it was issued
// to.
func (e *Engine) VerifyToken(ctx context.Context, token, ip, userAgent string) (*Claims, error) {
	claims, err := e.tokens.Verify(ctx, token, ip, userAgent)
	if err != nil {
		err = mapInternal(err)
		switch {
		case errors.Is(err, ErrTokenRevoked):
			e.metricInc(MetricTokenRevokedRejected)
		case errors.Is(err, ErrTokenBindingMismatch):
			e.metricInc(MetricTokenBindingMismatch)
		case errors.Is(err, ErrStoreUnavailable):
			return nil, err
		default:
			e.metricInc(MetricTokenInvalid)
		}
		e.logger.InfoContext(ctx, "token rejected", slog.Any("error", err))
		e.emitAudit(ctx, auditEventTokenRejected, false, auditFields{}, err)
		return nil, err
	}

	e.metricInc(MetricTokenVerified)
	return claims, nil
}

// RevokeToken removes the registry entry of (jti, tokenType). Revoking an
// unknown id is not an error.
func (e *Engine) RevokeToken(ctx context.Context, jti, tokenType string) error {
	if err := e.tokens.Revoke(ctx, jti, tokenType); err != nil {
		return mapInternal(err)
	}
	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventTokenRevoked, true, auditFields{tokenID: jti}, nil)
	return nil
}

/*
====================================
PUBLISHING
====================================
*/

func (e *Engine) publish(ctx context.Context, t queue.Topology, msg queue.Message) error {
	if e.publisher == nil {
		return ErrEngineNotReady
	}
	if err := e.publisher.Publish(ctx, t, msg); err != nil {
		e.metricInc(MetricPublishFailure)
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}
