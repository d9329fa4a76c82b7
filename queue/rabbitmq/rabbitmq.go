// Package rabbitmq implements the queue contracts on AMQP 0-9-1.
//
// Each topology maps to a durable direct exchange bound to a durable queue.
// The queue dead-letters into "{exchange}.dlx", which routes into
// "{queue}.dead" with the same routing key.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClosed is returned by a Publisher after Close.
var ErrClosed = errors.New("rabbitmq: publisher closed")

// Config holds connection settings.
type Config struct {
	URL       string
	Heartbeat time.Duration
	// ConnectionName is shown in the broker management UI.
	ConnectionName string
}

func (c Config) dial() (*amqp.Connection, error) {
	cfg := amqp.Config{
		Heartbeat:  c.Heartbeat,
		Properties: amqp.NewConnectionProperties(),
	}
	if c.ConnectionName != "" {
		cfg.Properties.SetClientConnectionName(c.ConnectionName)
	}
	conn, err := amqp.DialConfig(c.URL, cfg)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	return conn, nil
}

// Declare creates the exchanges, queues and bindings of t. It is
// idempotent for identical arguments.
func Declare(ch *amqp.Channel, t queue.Topology) error {
	if err := ch.ExchangeDeclare(t.DeadLetterExchange(), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", t.DeadLetterExchange(), err)
	}
	if _, err := ch.QueueDeclare(t.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", t.DeadLetterQueue(), err)
	}
	if err := ch.QueueBind(t.DeadLetterQueue(), t.RoutingKey, t.DeadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("rabbitmq: bind %s: %w", t.DeadLetterQueue(), err)
	}

	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", t.Exchange, err)
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, queueArgs(t)); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: bind %s: %w", t.Queue, err)
	}
	return nil
}

func queueArgs(t queue.Topology) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterExchange(),
		"x-dead-letter-routing-key": t.RoutingKey,
	}
}

func publishing(msg queue.Message) amqp.Publishing {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    ts,
		Body:         msg.Body,
	}
}

// Publisher publishes on one lazily opened connection. A failed publish
// drops the connection; the next call dials again.
type Publisher struct {
	config Config

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[queue.Topology]bool
	closed   bool
}

// NewPublisher creates a Publisher. No connection is made until the first
// Publish.
func NewPublisher(cfg Config) *Publisher {
	return &Publisher{config: cfg, declared: make(map[queue.Topology]bool)}
}

// Publish sends msg to the exchange of t.
func (p *Publisher) Publish(ctx context.Context, t queue.Topology, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if err := p.ensure(); err != nil {
		return err
	}
	if !p.declared[t] {
		if err := Declare(p.ch, t); err != nil {
			p.reset()
			return err
		}
		p.declared[t] = true
	}

	if err := p.ch.PublishWithContext(ctx, t.Exchange, t.RoutingKey, false, false, publishing(msg)); err != nil {
		p.reset()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}

func (p *Publisher) ensure() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()

	conn, err := p.config.dial()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: channel: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *Publisher) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	clear(p.declared)
}

// Dialer returns a queue.Dialer opening one connection per session.
func Dialer(cfg Config) queue.Dialer {
	return func(ctx context.Context) (queue.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := cfg.dial()
		if err != nil {
			return nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq: channel: %w", err)
		}
		return &session{conn: conn, ch: ch, done: make(chan struct{})}, nil
	}
}

type session struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) Consume(ctx context.Context, t queue.Topology, prefetch int) (<-chan queue.Delivery, error) {
	if err := Declare(s.ch, t); err != nil {
		return nil, err
	}
	if err := s.ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("rabbitmq: qos: %w", err)
	}
	src, err := s.ch.ConsumeWithContext(ctx, t.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: consume: %w", err)
	}

	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		for d := range src {
			select {
			case out <- &delivery{d: d}:
			case <-s.done:
				return
			}
		}
	}()
	return out, nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	if s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}

type delivery struct {
	d amqp.Delivery
}

func (d *delivery) Message() queue.Message {
	return queue.Message{ID: d.d.MessageId, Body: d.d.Body, Timestamp: d.d.Timestamp}
}

func (d *delivery) Redelivered() bool { return d.d.Redelivered }

func (d *delivery) Ack() error { return d.d.Ack(false) }

func (d *delivery) Nack(requeue bool) error { return d.d.Nack(false, requeue) }
