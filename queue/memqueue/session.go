package memqueue

import (
	"context"
	"sync"

	"github.com/MrEthical07/goGuard/queue"
)

// Session is a consuming connection to a Broker.
type Session struct {
	broker    *Broker
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	closed   bool
	inflight map[*delivery]struct{}
}

// Consume starts delivering messages of t, holding at most prefetch
// unsettled deliveries at a time.
func (s *Session) Consume(_ context.Context, t queue.Topology, prefetch int) (<-chan queue.Delivery, error) {
	if prefetch <= 0 {
		prefetch = 1
	}

	q := s.broker.queueFor(t.Queue)
	sem := make(chan struct{}, prefetch)
	out := make(chan queue.Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case sem <- struct{}{}:
			case <-s.done:
				return
			}

			var env envelope
			select {
			case env = <-q:
			case <-s.done:
				return
			}

			d := &delivery{session: s, queue: t.Queue, env: env, release: sem}
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				_ = s.broker.push(t.Queue, envelope{msg: env.msg, redelivered: true})
				return
			}
			s.inflight[d] = struct{}{}
			s.mu.Unlock()

			select {
			case out <- d:
			case <-s.done:
				// Close has already returned d to the queue.
				return
			}
		}
	}()

	return out, nil
}

// Close ends the session. Unsettled deliveries go back to their queue
// marked as redelivered.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.done)
		for d := range s.inflight {
			delete(s.inflight, d)
			_ = s.broker.push(d.queue, envelope{msg: d.env.msg, redelivered: true})
		}
		s.mu.Unlock()
		s.broker.forget(s)
	})
	return nil
}

func (s *Session) settle(d *delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[d]; !ok {
		return false
	}
	delete(s.inflight, d)
	<-d.release
	return true
}

type delivery struct {
	session *Session
	queue   string
	env     envelope
	release chan struct{}
}

func (d *delivery) Message() queue.Message { return d.env.msg }

func (d *delivery) Redelivered() bool { return d.env.redelivered }

func (d *delivery) Ack() error {
	if !d.session.settle(d) {
		return ErrDeliverySettled
	}
	return nil
}

func (d *delivery) Nack(requeue bool) error {
	if !d.session.settle(d) {
		return ErrDeliverySettled
	}
	if requeue {
		return d.session.broker.push(d.queue, envelope{msg: d.env.msg, redelivered: true})
	}
	d.session.broker.deadLetter(d.queue, d.env.msg)
	return nil
}
