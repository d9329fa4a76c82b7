// Package queue defines the event transport used between the request path
// and the guard workers, and the consumer loop that drives the workers.
//
// Broker specifics live in sub-packages:
//   - queue/rabbitmq  AMQP 0-9-1 (durable direct exchanges)
//   - queue/natsjs    NATS JetStream (one stream per exchange)
//   - queue/memqueue  in-process broker for tests and local runs
//
// Delivery is at-least-once. A consumer acknowledges a message only after
// its handler returned nil, requeues it on a transient failure and
// dead-letters it on a permanent failure or after too many redeliveries.
package queue
