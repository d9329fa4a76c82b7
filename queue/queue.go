package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned by a consumer session whose delivery stream ended.
var ErrSessionClosed = errors.New("queue session closed")

// Topology names the exchange, queue and routing key of one event stream.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

// DeadLetterExchange is where rejected messages of t are routed.
func (t Topology) DeadLetterExchange() string {
	return t.Exchange + ".dlx"
}

// DeadLetterQueue collects messages dead-lettered from t.
func (t Topology) DeadLetterQueue() string {
	return t.Queue + ".dead"
}

var (
	// RateLimitTopology carries "identity,route" request events.
	RateLimitTopology = Topology{
		Exchange:   "rate_limit_exchange",
		Queue:      "rate_limit_queue",
		RoutingKey: "rate_limit",
	}
	// LoginAttemptTopology carries "user_id" failed-login events.
	LoginAttemptTopology = Topology{
		Exchange:   "login_attempt_exchange",
		Queue:      "login_attempt_queue",
		RoutingKey: "login_attempt",
	}
)

// Message is a broker-independent event.
type Message struct {
	ID        string
	Body      []byte
	Timestamp time.Time
}

// NewMessage wraps body with a fresh message id.
func NewMessage(body []byte) Message {
	return Message{
		ID:        uuid.NewString(),
		Body:      body,
		Timestamp: time.Now().UTC(),
	}
}

// Delivery is a message handed to a consumer together with its settlement
// controls. Exactly one of Ack or Nack must be called.
type Delivery interface {
	Message() Message
	Redelivered() bool
	Ack() error
	Nack(requeue bool) error
}

// Publisher sends messages to a topology.
type Publisher interface {
	Publish(ctx context.Context, t Topology, msg Message) error
}

// Session is one live broker connection used for consuming.
type Session interface {
	// Consume declares t and starts delivering its messages with at most
	// prefetch unacknowledged deliveries. The channel closes when the
	// session is lost.
	Consume(ctx context.Context, t Topology, prefetch int) (<-chan Delivery, error)
	Close() error
}

// Dialer opens a new Session.
type Dialer func(ctx context.Context) (Session, error)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The consumer dead-letters the
// message instead of requeueing it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
