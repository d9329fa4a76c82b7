// Package natsjs implements the queue contracts on NATS JetStream.
//
// A topology maps to one file-backed stream per exchange holding the
// subjects "{exchange}.{routing_key}" and "{exchange}.dlx.{routing_key}".
// The queue becomes a durable pull consumer filtered on the first subject.
// Dead-lettered messages are copied to the second subject and terminated.
package natsjs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/queue"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const defaultAckWait = 30 * time.Second

// Subject returns the subject events of t are published on.
func Subject(t queue.Topology) string {
	return t.Exchange + "." + t.RoutingKey
}

// DeadLetterSubject returns the subject dead-lettered events of t are copied to.
func DeadLetterSubject(t queue.Topology) string {
	return t.Exchange + ".dlx." + t.RoutingKey
}

// StreamName returns the stream backing the exchange of t.
func StreamName(t queue.Topology) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(t.Exchange))
}

// ConsumerName returns the durable consumer name for the queue of t.
func ConsumerName(t queue.Topology) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(t.Queue)
}

func streamConfig(t queue.Topology) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      StreamName(t),
		Subjects:  []string{t.Exchange + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
	}
}

func consumerConfig(t queue.Topology, prefetch int, ackWait time.Duration) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       ConsumerName(t),
		FilterSubject: Subject(t),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxAckPending: prefetch,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
}

// Declare creates or updates the stream backing t.
func Declare(ctx context.Context, js jetstream.JetStream, t queue.Topology) error {
	if _, err := js.CreateOrUpdateStream(ctx, streamConfig(t)); err != nil {
		return fmt.Errorf("natsjs: stream %s: %w", StreamName(t), err)
	}
	return nil
}

func publish(ctx context.Context, js jetstream.JetStream, subject string, msg queue.Message) error {
	m := nats.NewMsg(subject)
	m.Data = msg.Body
	var opts []jetstream.PublishOpt
	if msg.ID != "" {
		opts = append(opts, jetstream.WithMsgID(msg.ID))
	}
	if _, err := js.PublishMsg(ctx, m, opts...); err != nil {
		return fmt.Errorf("natsjs: publish %s: %w", subject, err)
	}
	return nil
}

// Publisher publishes over an existing NATS connection. The message id is
// sent as Nats-Msg-Id so the stream drops duplicates inside its window.
type Publisher struct {
	js jetstream.JetStream

	mu       sync.Mutex
	declared map[queue.Topology]bool
}

// NewPublisher creates a Publisher on nc.
func NewPublisher(nc *nats.Conn) (*Publisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("natsjs: %w", err)
	}
	return &Publisher{js: js, declared: make(map[queue.Topology]bool)}, nil
}

// Publish sends msg to the subject of t.
func (p *Publisher) Publish(ctx context.Context, t queue.Topology, msg queue.Message) error {
	p.mu.Lock()
	if !p.declared[t] {
		if err := Declare(ctx, p.js, t); err != nil {
			p.mu.Unlock()
			return err
		}
		p.declared[t] = true
	}
	p.mu.Unlock()

	return publish(ctx, p.js, Subject(t), msg)
}

// Config holds connection settings for consuming sessions.
type Config struct {
	URL     string
	Name    string
	AckWait time.Duration
}

// Dialer returns a queue.Dialer opening one NATS connection per session.
func Dialer(cfg Config) queue.Dialer {
	return func(ctx context.Context) (queue.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opts := []nats.Option{nats.MaxReconnects(0)}
		if cfg.Name != "" {
			opts = append(opts, nats.Name(cfg.Name))
		}
		nc, err := nats.Connect(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("natsjs: connect: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("natsjs: %w", err)
		}
		ackWait := cfg.AckWait
		if ackWait <= 0 {
			ackWait = defaultAckWait
		}
		return &session{nc: nc, js: js, ackWait: ackWait, done: make(chan struct{})}, nil
	}
}

type session struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	ackWait time.Duration

	mu        sync.Mutex
	iter      jetstream.MessagesContext
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) Consume(ctx context.Context, t queue.Topology, prefetch int) (<-chan queue.Delivery, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := Declare(ctx, s.js, t); err != nil {
		return nil, err
	}
	cons, err := s.js.CreateOrUpdateConsumer(ctx, StreamName(t), consumerConfig(t, prefetch, s.ackWait))
	if err != nil {
		return nil, fmt.Errorf("natsjs: consumer %s: %w", ConsumerName(t), err)
	}
	iter, err := cons.Messages(jetstream.PullMaxMessages(prefetch))
	if err != nil {
		return nil, fmt.Errorf("natsjs: messages: %w", err)
	}
	s.mu.Lock()
	s.iter = iter
	s.mu.Unlock()

	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		for {
			msg, err := iter.Next()
			if err != nil {
				// Iterator closed, heartbeat lost or connection closed.
				return
			}
			select {
			case out <- &delivery{msg: msg, js: s.js, topology: t}:
			case <-s.done:
				return
			}
		}
	}()
	return out, nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.iter != nil {
			s.iter.Stop()
		}
		s.mu.Unlock()
		s.nc.Close()
	})
	return nil
}

type delivery struct {
	msg      jetstream.Msg
	js       jetstream.JetStream
	topology queue.Topology
}

func (d *delivery) Message() queue.Message {
	m := queue.Message{Body: d.msg.Data()}
	if h := d.msg.Headers(); h != nil {
		m.ID = h.Get(nats.MsgIdHdr)
	}
	if meta, err := d.msg.Metadata(); err == nil {
		m.Timestamp = meta.Timestamp
	}
	return m
}

func (d *delivery) Redelivered() bool {
	meta, err := d.msg.Metadata()
	if err != nil {
		return false
	}
	return meta.NumDelivered > 1
}

func (d *delivery) Ack() error { return d.msg.Ack() }

// Nack with requeue asks for immediate redelivery. Without requeue the
// message is copied to the dead-letter subject and terminated; if the copy
// fails the message is redelivered instead of dropped.
func (d *delivery) Nack(requeue bool) error {
	if requeue {
		return d.msg.Nak()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := d.Message()
	// A fresh id keeps the copy clear of the stream's duplicate window.
	if msg.ID != "" {
		msg.ID = msg.ID + ".dead"
	}
	if err := publish(ctx, d.js, DeadLetterSubject(d.topology), msg); err != nil {
		return errors.Join(err, d.msg.Nak())
	}
	return d.msg.Term()
}
