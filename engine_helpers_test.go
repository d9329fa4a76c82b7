package goGuard

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/logging"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/queue/memqueue"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-password-123"

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Token.Issuer = "goguard-test"
	cfg.Lock.Timeout = time.Second
	cfg.Lock.RetryInterval = 5 * time.Millisecond
	cfg.Queue.ReconnectDelay = 10 * time.Millisecond
	cfg.Queue.MaxRedeliveries = 3
	cfg.Lockout.Threshold = 3
	cfg.Lockout.InitialDuration = 5 * time.Minute
	cfg.Lockout.MaxDuration = time.Hour
	cfg.Metrics.Enabled = true
	return cfg
}

// memUserStore is an in-memory UserStore. Row locking is a single mutex.
type memUserStore struct {
	mu      sync.Mutex
	users   map[string]*UserRecord
	updates int
}

func newMemUserStore(users ...UserRecord) *memUserStore {
	s := &memUserStore{users: make(map[string]*UserRecord, len(users))}
	for i := range users {
		u := users[i]
		s.users[u.ID] = &u
	}
	return s
}

func (s *memUserStore) GetUserByID(_ context.Context, userID string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) GetUserByIdentifier(_ context.Context, identifier string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == identifier || strings.EqualFold(u.Email, identifier) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memUserStore) UpdateLockout(_ context.Context, userID string, fn func(*LockoutState) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	state := LockoutState{Blocked: u.IsBlocked, ExpiresAt: u.LockoutExpiresAt}
	changed, err := fn(&state)
	if err != nil || !changed {
		return err
	}
	u.IsBlocked = state.Blocked
	u.LockoutExpiresAt = state.ExpiresAt
	s.updates++
	return nil
}

func (s *memUserStore) get(userID string) UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[userID]
}

func (s *memUserStore) set(u UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func testUser(t testing.TB) UserRecord {
	t.Helper()

	hash, err := password.NewBcrypt(bcrypt.MinCost).Hash(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	return UserRecord{
		ID:           "u1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
		IsActive:     true,
	}
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	users  *memUserStore
	broker *memqueue.Broker
}

func newTestEnv(t testing.TB, cfg Config, configure ...func(*Builder)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		mr:     mr,
		rdb:    rdb,
		users:  newMemUserStore(testUser(t)),
		broker: memqueue.New(),
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.users).
		WithPublisher(env.broker).
		WithLogger(logging.New(logging.WithOutput(io.Discard)))
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = env.broker.Close()
	})
	return env
}

func clientContext(ip, ua string) context.Context {
	return WithUserAgent(WithClientIP(context.Background(), ip), ua)
}
