package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrEthical07/goGuard/queue"

// Handler processes one message. Returning nil acknowledges it; an error
// wrapped with Permanent dead-letters it; any other error requeues it.
type Handler func(ctx context.Context, msg Message) error

// Outcome is how a delivery was settled.
type Outcome uint8

const (
	// OutcomeAcked means the handler succeeded.
	OutcomeAcked Outcome = iota
	// OutcomeRequeued means the message was returned to its queue.
	OutcomeRequeued
	// OutcomeDeadLettered means the message was rejected without requeue.
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcked:
		return "acked"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// ConsumerConfig holds consumer loop parameters.
type ConsumerConfig struct {
	Topology        Topology
	Prefetch        int
	ReconnectDelay  time.Duration
	MaxRedeliveries int
}

// Consumer runs a long-lived consume loop for one topology. Messages are
// handled one at a time in delivery order.
type Consumer struct {
	dial      Dialer
	handler   Handler
	config    ConsumerConfig
	attempts  AttemptTracker
	logger    *slog.Logger
	tracer    trace.Tracer
	onOutcome func(Outcome)
}

// Option configures a Consumer.
type Option func(c *Consumer)

// WithLogger sets the consumer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAttemptTracker enables the redelivery bound.
func WithAttemptTracker(tracker AttemptTracker) Option {
	return func(c *Consumer) {
		c.attempts = tracker
	}
}

// WithOutcomeHook registers fn to observe every settled delivery.
func WithOutcomeHook(fn func(Outcome)) Option {
	return func(c *Consumer) {
		c.onOutcome = fn
	}
}

// WithTracerProvider sets the provider used for per-delivery spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Consumer) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewConsumer creates a Consumer for cfg.Topology.
func NewConsumer(dial Dialer, handler Handler, cfg ConsumerConfig, options ...Option) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}

	c := &Consumer{
		dial:    dial,
		handler: handler,
		config:  cfg,
		logger:  slog.New(slog.DiscardHandler),
		tracer:  otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, option := range options {
		option(c)
	}
	c.logger = c.logger.With(slog.String("queue", cfg.Topology.Queue))

	return c
}

// Run consumes until ctx is cancelled. A lost or failed session is retried
// after the reconnect delay. On cancellation the in-flight message is
// finished and settled before Run returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}

		c.logger.WarnContext(
			ctx,
			"consumer session ended, reconnecting",
			slog.Any("error", err),
			slog.Duration("delay", c.config.ReconnectDelay),
		)

		timer := time.NewTimer(c.config.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	session, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			c.logger.DebugContext(ctx, "cannot close session", slog.Any("error", err))
		}
	}()

	deliveries, err := session.Consume(ctx, c.config.Topology, c.config.Prefetch)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.InfoContext(ctx, "consumer started", slog.Int("prefetch", c.config.Prefetch))

	for {
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrSessionClosed
			}
			c.handle(context.WithoutCancel(ctx), d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d Delivery) {
	msg := d.Message()

	ctx, span := c.tracer.Start(
		ctx,
		c.config.Topology.Queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", c.config.Topology.Exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", c.config.Topology.RoutingKey),
			attribute.String("messaging.message.id", msg.ID),
			attribute.Bool("messaging.redelivered", d.Redelivered()),
		),
	)
	defer span.End()

	err := c.invoke(ctx, msg)
	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			c.logger.WarnContext(ctx, "cannot ack message", slog.String("message_id", msg.ID), slog.Any("error", ackErr))
		}
		if c.attempts != nil && d.Redelivered() && msg.ID != "" {
			_ = c.attempts.Forget(ctx, msg.ID)
		}
		c.settled(OutcomeAcked)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	requeue := !IsPermanent(err)
	attempt := 0
	if requeue && c.attempts != nil && c.config.MaxRedeliveries > 0 && msg.ID != "" {
		n, trackErr := c.attempts.Increment(ctx, msg.ID)
		if trackErr != nil {
			c.logger.WarnContext(ctx, "cannot track delivery attempt", slog.String("message_id", msg.ID), slog.Any("error", trackErr))
		} else {
			attempt = n
			if n > c.config.MaxRedeliveries {
				requeue = false
			}
		}
	}

	if nackErr := d.Nack(requeue); nackErr != nil {
		c.logger.WarnContext(ctx, "cannot nack message", slog.String("message_id", msg.ID), slog.Any("error", nackErr))
	}

	if requeue {
		c.logger.WarnContext(
			ctx,
			"message processing failed, requeued",
			slog.String("message_id", msg.ID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		c.settled(OutcomeRequeued)
		return
	}

	if c.attempts != nil && attempt > 0 {
		_ = c.attempts.Forget(ctx, msg.ID)
	}
	c.logger.ErrorContext(
		ctx,
		"message dead-lettered",
		slog.String("message_id", msg.ID),
		slog.Int("attempt", attempt),
		slog.Any("error", err),
	)
	c.settled(OutcomeDeadLettered)
}

func (c *Consumer) invoke(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer) settled(o Outcome) {
	if c.onOutcome != nil {
		c.onOutcome(o)
	}
}
