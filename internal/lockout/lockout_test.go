package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/internal/keys"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEscalatedPenalty(t *testing.T) {
	initial := 5 * time.Minute
	max := time.Hour

	cases := []struct {
		count int
		want  time.Duration
	}{
		{count: 5, want: 5 * time.Minute},
		{count: 10, want: 10 * time.Minute},
		{count: 15, want: 20 * time.Minute},
		{count: 20, want: 40 * time.Minute},
		{count: 25, want: time.Hour},
		{count: 5000, want: time.Hour},
		{count: 3, want: 5 * time.Minute},
	}
	for _, tc := range cases {
		if got := EscalatedPenalty(tc.count, 5, initial, max); got != tc.want {
			t.Fatalf("EscalatedPenalty(%d) = %v, want %v", tc.count, got, tc.want)
		}
	}

	if got := EscalatedPenalty(1<<30, 1, time.Second, 0); got <= 0 {
		t.Fatalf("uncapped penalty must saturate instead of overflowing, got %v", got)
	}
}

type memStore struct {
	mu      sync.Mutex
	states  map[string]State
	commits int
	err     error
}

func (m *memStore) UpdateLockout(_ context.Context, userID string, fn func(*State) (bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	state, ok := m.states[userID]
	if !ok {
		return ErrUserNotFound
	}
	changed, err := fn(&state)
	if err != nil {
		return err
	}
	if changed {
		m.states[userID] = state
		m.commits++
	}
	return nil
}

type mutexLocker struct {
	mu sync.Mutex
}

func (l *mutexLocker) WithLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

func newTestProcessor(t *testing.T, store *memStore) (*Processor, *miniredis.Miniredis, time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := NewProcessor(NewCounter(rdb, time.Hour), store, &mutexLocker{}, Config{
		Threshold:       5,
		InitialDuration: 5 * time.Minute,
		MaxDuration:     time.Hour,
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	return p, mr, now
}

func TestProcessLocksAtThreshold(t *testing.T) {
	store := &memStore{states: map[string]State{"42": {}}}
	p, mr, now := newTestProcessor(t, store)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		res, err := p.Process(ctx, "42")
		if err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
		if res.Action != ActionNone {
			t.Fatalf("unexpected action at failure %d: %v", i, res.Action)
		}
	}
	if store.states["42"].Blocked {
		t.Fatal("account blocked before threshold")
	}
	if ttl := mr.TTL(keys.LoginFailures("42")); ttl != time.Hour {
		t.Fatalf("expected 1h counter TTL, got %v", ttl)
	}

	res, err := p.Process(ctx, "42")
	if err != nil {
		t.Fatalf("process 5: %v", err)
	}
	if res.Action != ActionLocked {
		t.Fatalf("expected lock at threshold, got %v", res.Action)
	}
	state := store.states["42"]
	if !state.Blocked || !state.ExpiresAt.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("unexpected state %+v", state)
	}
	if got, _ := mr.Get(keys.LoginFailures("42")); got != "5" {
		t.Fatalf("initial lock must keep the counter, got %q", got)
	}
}

func TestProcessEscalatesAtNextMultiple(t *testing.T) {
	store := &memStore{states: map[string]State{"42": {}}}
	p, mr, now := newTestProcessor(t, store)
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		res, err := p.Process(ctx, "42")
		if err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
		if i > 5 && res.Action != ActionNone {
			t.Fatalf("blocked account changed at non-multiple %d", i)
		}
	}
	if store.commits != 1 {
		t.Fatalf("expected exactly one commit before escalation, got %d", store.commits)
	}

	res, err := p.Process(ctx, "42")
	if err != nil {
		t.Fatalf("process 10: %v", err)
	}
	if res.Action != ActionEscalated || res.Failures != 10 {
		t.Fatalf("expected escalation at 10, got %+v", res)
	}
	if got := store.states["42"].ExpiresAt; !got.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("expected doubled lockout, got %v", got)
	}
	if got, _ := mr.Get(keys.LoginFailures("42")); got != "10" {
		t.Fatalf("escalation must keep the counter, got %q", got)
	}

	for i := 11; i <= 15; i++ {
		if res, err = p.Process(ctx, "42"); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if res.Action != ActionEscalated || !store.states["42"].ExpiresAt.Equal(now.Add(20*time.Minute)) {
		t.Fatalf("expected quadrupled lockout at 15, got %+v", store.states["42"])
	}
}

func TestProcessNeverShortensLockout(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	longer := now.Add(3 * time.Hour)
	store := &memStore{states: map[string]State{"42": {Blocked: true, ExpiresAt: longer}}}
	p, _, _ := newTestProcessor(t, store)
	ctx := context.Background()

	var res Result
	var err error
	for i := 1; i <= 10; i++ {
		if res, err = p.Process(ctx, "42"); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if res.Action != ActionNone || store.commits != 0 {
		t.Fatalf("shorter escalation must not commit: %+v commits=%d", res, store.commits)
	}
	if !store.states["42"].ExpiresAt.Equal(longer) {
		t.Fatalf("lockout shortened to %v", store.states["42"].ExpiresAt)
	}
}

func TestProcessUnknownUser(t *testing.T) {
	store := &memStore{states: map[string]State{}}
	p, mr, _ := newTestProcessor(t, store)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := p.Process(ctx, "ghost"); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if _, err := p.Process(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if mr.Exists(keys.LoginFailures("ghost")) {
		t.Fatal("counter of unknown user must be dropped")
	}
}

func TestProcessStoreFailurePropagates(t *testing.T) {
	boom := errors.New("db down")
	store := &memStore{states: map[string]State{"42": {}}, err: boom}
	p, _, _ := newTestProcessor(t, store)
	ctx := context.Background()

	var err error
	for i := 0; i < 5; i++ {
		_, err = p.Process(ctx, "42")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error at threshold, got %v", err)
	}
}

func TestCounterUnavailable(t *testing.T) {
	store := &memStore{states: map[string]State{"42": {}}}
	p, mr, _ := newTestProcessor(t, store)
	mr.Close()

	if _, err := p.Process(context.Background(), "42"); !errors.Is(err, ErrCounterUnavailable) {
		t.Fatalf("expected ErrCounterUnavailable, got %v", err)
	}
}
