package goGuard

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/goGuard/internal/lockout"
	"github.com/MrEthical07/goGuard/logging"
	"github.com/MrEthical07/goGuard/queue"
)

// RateLimitHandler returns the queue handler of the rate limit worker. A
// body that does not decode is dead-lettered; infrastructure failures are
// returned as-is so the consumer requeues the event.
func (e *Engine) RateLimitHandler() queue.Handler {
	logger := logging.Named(e.logger, "rate_limit_worker")

	return func(ctx context.Context, msg queue.Message) error {
		identity, route, err := queue.DecodeRateLimitEvent(msg.Body)
		if err != nil {
			return queue.Permanent(err)
		}

		out, err := e.RecordRequest(ctx, identity, route)
		if err != nil {
			return err
		}

		if out.PenaltyApplied {
			logger.InfoContext(ctx, "penalty applied",
				slog.String("identity", identity),
				slog.String("route", route),
				slog.Int64("attempts", out.Attempts),
				slog.Time("penalty_end", out.PenaltyEnd),
			)
			e.emitAudit(ctx, auditEventPenaltyApplied, true, auditFields{
				identity: identity,
				route:    route,
				metadata: durationMetadata("penalty_seconds", out.PenaltyEnd.Sub(e.now())),
			}, nil)
		}
		return nil
	}
}

// LockoutHandler returns the queue handler of the lockout worker. Events for
// users that do not exist are dead-lettered.
func (e *Engine) LockoutHandler() queue.Handler {
	logger := logging.Named(e.logger, "lockout_worker")

	return func(ctx context.Context, msg queue.Message) error {
		userID, err := queue.DecodeLoginAttemptEvent(msg.Body)
		if err != nil {
			return queue.Permanent(err)
		}

		res, err := e.ProcessFailedLogin(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrEngineNotReady) {
				return queue.Permanent(err)
			}
			return err
		}

		switch res.Action {
		case lockout.ActionLocked:
			logger.InfoContext(ctx, "account locked",
				slog.String("user_id", userID),
				slog.Int("failures", res.Failures),
				slog.Time("expires_at", res.ExpiresAt),
			)
		case lockout.ActionEscalated:
			logger.InfoContext(ctx, "lockout escalated",
				slog.String("user_id", userID),
				slog.Int("failures", res.Failures),
				slog.Time("expires_at", res.ExpiresAt),
			)
		default:
			logger.DebugContext(ctx, "failed login counted",
				slog.String("user_id", userID),
				slog.Int("failures", res.Failures),
			)
		}
		return nil
	}
}

// RateLimitConsumer builds the consume loop of the rate limit worker.
func (e *Engine) RateLimitConsumer(dial queue.Dialer, options ...queue.Option) *queue.Consumer {
	return e.consumer(dial, queue.RateLimitTopology, e.RateLimitHandler(), options)
}

// LockoutConsumer builds the consume loop of the lockout worker.
func (e *Engine) LockoutConsumer(dial queue.Dialer, options ...queue.Option) *queue.Consumer {
	return e.consumer(dial, queue.LoginAttemptTopology, e.LockoutHandler(), options)
}

func (e *Engine) consumer(dial queue.Dialer, t queue.Topology, handler queue.Handler, extra []queue.Option) *queue.Consumer {
	options := []queue.Option{
		queue.WithLogger(e.logger),
		queue.WithAttemptTracker(e.attempts),
		queue.WithTracerProvider(e.tracerProvider),
	}
	options = append(options, extra...)

	return queue.NewConsumer(dial, handler, queue.ConsumerConfig{
		Topology:        t,
		Prefetch:        e.config.Queue.Prefetch,
		ReconnectDelay:  e.config.Queue.ReconnectDelay,
		MaxRedeliveries: e.config.Queue.MaxRedeliveries,
	}, options...)
}

