package goGuard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/queue"
)

func runConsumer(t *testing.T, c *queue.Consumer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("consumer returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("consumer did not stop")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func outcomeRecorder() (queue.Option, chan queue.Outcome) {
	ch := make(chan queue.Outcome, 64)
	return queue.WithOutcomeHook(func(o queue.Outcome) { ch <- o }), ch
}

func TestRateLimitWorkerPenalizesAfterThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Routes[RouteLogin] = RouteLimit{MaxAttempts: 3, Penalty: time.Minute}
	env := newTestEnv(t, cfg)
	runConsumer(t, env.engine.RateLimitConsumer(env.broker.Dial))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := env.engine.Admit(ctx, "203.0.113.20", RouteLogin); err != nil {
			t.Fatalf("Admit %d failed: %v", i, err)
		}
	}

	waitFor(t, "penalty", func() bool {
		return errors.Is(env.engine.AdmissionCheck(ctx, "203.0.113.20", RouteLogin), ErrRateLimited)
	})

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricPenaltyApplied] != 1 {
		t.Fatalf("expected 1 penalty, got %d", snap.Counters[MetricPenaltyApplied])
	}
}

func TestRateLimitWorkerDeadLettersMalformedEvent(t *testing.T) {
	env := newTestEnv(t, testConfig())
	hook, outcomes := outcomeRecorder()
	runConsumer(t, env.engine.RateLimitConsumer(env.broker.Dial, hook))

	msg := queue.NewMessage([]byte("no-comma-here"))
	if err := env.broker.Publish(context.Background(), queue.RateLimitTopology, msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case o := <-outcomes:
		if o != queue.OutcomeDeadLettered {
			t.Fatalf("expected dead-letter, got %s", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the delivery")
	}

	dead := env.broker.DeadLetters(queue.RateLimitTopology)
	if len(dead) != 1 || dead[0].ID != msg.ID {
		t.Fatalf("expected the message in dead letters, got %v", dead)
	}
}

func TestRateLimitWorkerRequeuesOnStoreFailure(t *testing.T) {
	env := newTestEnv(t, testConfig())
	hook, outcomes := outcomeRecorder()

	env.mr.SetError("simulated outage")
	if err := env.engine.PublishRequest(context.Background(), "203.0.113.21", RouteLogin); err != nil {
		t.Fatalf("PublishRequest failed: %v", err)
	}
	runConsumer(t, env.engine.RateLimitConsumer(env.broker.Dial, hook))

	select {
	case o := <-outcomes:
		if o != queue.OutcomeRequeued {
			t.Fatalf("expected requeue, got %s", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the delivery")
	}

	env.mr.SetError("")
	waitFor(t, "acked redelivery", func() bool {
		select {
		case o := <-outcomes:
			return o == queue.OutcomeAcked
		default:
			return false
		}
	})

	if got, _ := env.mr.Get("203.0.113.21:" + RouteLogin + "_attempts"); got != "1" {
		t.Fatalf("expected the event counted once, got %q", got)
	}
}

func TestLockoutWorkerLocksAccount(t *testing.T) {
	env := newTestEnv(t, testConfig())
	runConsumer(t, env.engine.LockoutConsumer(env.broker.Dial))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Authenticate(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	waitFor(t, "account lock", func() bool {
		return env.users.get("u1").IsBlocked
	})

	user := env.users.get("u1")
	remaining := time.Until(user.LockoutExpiresAt)
	if remaining < 4*time.Minute || remaining > 5*time.Minute {
		t.Fatalf("expected about 5 minutes of lockout, got %v", remaining)
	}

	_, err := env.engine.Authenticate(ctx, "alice", testPassword)
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricAccountLocked]; got != 1 {
		t.Fatalf("expected 1 lock, got %d", got)
	}
}

func TestProcessFailedLoginEscalates(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	var last time.Time
	for i := 1; i <= 6; i++ {
		res, err := env.engine.ProcessFailedLogin(ctx, "u1")
		if err != nil {
			t.Fatalf("ProcessFailedLogin %d failed: %v", i, err)
		}
		if !res.ExpiresAt.IsZero() {
			last = res.ExpiresAt
		}
	}

	// Threshold 3: the third failure locks for 5m, the sixth doubles it.
	remaining := time.Until(last)
	if remaining < 9*time.Minute || remaining > 10*time.Minute {
		t.Fatalf("expected about 10 minutes after escalation, got %v", remaining)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLockoutEscalated]; got != 1 {
		t.Fatalf("expected 1 escalation, got %d", got)
	}
}

func TestLockoutWorkerDeadLettersUnknownUser(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.Threshold = 1
	env := newTestEnv(t, cfg)
	hook, outcomes := outcomeRecorder()
	runConsumer(t, env.engine.LockoutConsumer(env.broker.Dial, hook))

	if err := env.engine.RecordFailedLogin(context.Background(), "ghost"); err != nil {
		t.Fatalf("RecordFailedLogin failed: %v", err)
	}

	select {
	case o := <-outcomes:
		if o != queue.OutcomeDeadLettered {
			t.Fatalf("expected dead-letter, got %s", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the delivery")
	}
	if env.mr.Exists("login_attempts:ghost") {
		t.Fatal("counter of an unknown user must not linger")
	}
}

func TestRecordFailedLoginRejectsEmptyUser(t *testing.T) {
	env := newTestEnv(t, testConfig())
	if err := env.engine.RecordFailedLogin(context.Background(), ""); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
