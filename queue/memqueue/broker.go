// Package memqueue is an in-process implementation of the queue contracts.
// It follows broker semantics closely enough for tests and single-binary
// development setups: bounded in-flight deliveries per session, requeue of
// unsettled deliveries when a session closes, and dead-letter collection.
package memqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/MrEthical07/goGuard/queue"
)

const defaultQueueSize = 4096

var (
	// ErrQueueFull indicates the queue buffer is exhausted.
	ErrQueueFull = errors.New("memqueue: queue full")
	// ErrBrokerClosed indicates the broker was shut down.
	ErrBrokerClosed = errors.New("memqueue: broker closed")
	// ErrDialRefused is returned by dials failed on purpose with FailNextDials.
	ErrDialRefused = errors.New("memqueue: dial refused")
	// ErrDeliverySettled indicates a delivery was already acked, nacked or
	// returned to the queue by a closed session.
	ErrDeliverySettled = errors.New("memqueue: delivery already settled")
)

type envelope struct {
	msg         queue.Message
	redelivered bool
}

// Broker holds named queues and the dead letters of each topology.
type Broker struct {
	mu        sync.Mutex
	queues    map[string]chan envelope
	dead      map[string][]queue.Message
	sessions  map[*Session]struct{}
	failDials int
	closed    bool
	size      int
}

// New creates an empty Broker.
func New() *Broker {
	return &Broker{
		queues:   make(map[string]chan envelope),
		dead:     make(map[string][]queue.Message),
		sessions: make(map[*Session]struct{}),
		size:     defaultQueueSize,
	}
}

func (b *Broker) queueFor(name string) chan envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = make(chan envelope, b.size)
		b.queues[name] = q
	}
	return q
}

func (b *Broker) push(name string, env envelope) error {
	q := b.queueFor(name)
	select {
	case q <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

// Publish enqueues msg on the queue of t.
func (b *Broker) Publish(ctx context.Context, t queue.Topology, msg queue.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}
	return b.push(t.Queue, envelope{msg: msg})
}

// Dial opens a consuming Session. It satisfies queue.Dialer.
func (b *Broker) Dial(ctx context.Context) (queue.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	if b.failDials > 0 {
		b.failDials--
		return nil, ErrDialRefused
	}

	s := &Session{
		broker:   b,
		done:     make(chan struct{}),
		inflight: make(map[*delivery]struct{}),
	}
	b.sessions[s] = struct{}{}
	return s, nil
}

// FailNextDials makes the next n Dial calls fail.
func (b *Broker) FailNextDials(n int) {
	b.mu.Lock()
	b.failDials = n
	b.mu.Unlock()
}

// DropSessions closes every open session, as a broker restart would.
func (b *Broker) DropSessions() {
	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}

// Sessions returns the number of open sessions.
func (b *Broker) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Pending returns the number of messages waiting on the queue of t.
func (b *Broker) Pending(t queue.Topology) int {
	return len(b.queueFor(t.Queue))
}

// DeadLetters returns a copy of the messages dead-lettered from t.
func (b *Broker) DeadLetters(t queue.Topology) []queue.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]queue.Message, len(b.dead[t.Queue]))
	copy(out, b.dead[t.Queue])
	return out
}

// Close shuts the broker down and closes all sessions.
func (b *Broker) Close() error {
	b.DropSessions()
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *Broker) deadLetter(name string, msg queue.Message) {
	b.mu.Lock()
	b.dead[name] = append(b.dead[name], msg)
	b.mu.Unlock()
}

func (b *Broker) forget(s *Session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
}
