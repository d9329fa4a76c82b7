package natsjs

import (
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/queue"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
)

func TestSubjects(t *testing.T) {
	topo := queue.LoginAttemptTopology

	assert.Equal(t, "login_attempt_exchange.login_attempt", Subject(topo))
	assert.Equal(t, "login_attempt_exchange.dlx.login_attempt", DeadLetterSubject(topo))
	assert.Equal(t, "LOGIN_ATTEMPT_EXCHANGE", StreamName(topo))
	assert.Equal(t, "login_attempt_queue", ConsumerName(topo))

	custom := queue.Topology{Exchange: "guard.events", Queue: "guard.rate", RoutingKey: "rate"}
	assert.Equal(t, "GUARD_EVENTS", StreamName(custom))
	assert.Equal(t, "guard_rate", ConsumerName(custom))
}

func TestStreamCoversBothSubjects(t *testing.T) {
	cfg := streamConfig(queue.RateLimitTopology)

	assert.Equal(t, []string{"rate_limit_exchange.>"}, cfg.Subjects)
	assert.Equal(t, jetstream.FileStorage, cfg.Storage)
}

func TestConsumerConfig(t *testing.T) {
	cfg := consumerConfig(queue.RateLimitTopology, 4, time.Minute)

	assert.Equal(t, "rate_limit_queue", cfg.Durable)
	assert.Equal(t, Subject(queue.RateLimitTopology), cfg.FilterSubject)
	assert.Equal(t, jetstream.AckExplicitPolicy, cfg.AckPolicy)
	assert.Equal(t, 4, cfg.MaxAckPending)
	assert.Equal(t, time.Minute, cfg.AckWait)
}
