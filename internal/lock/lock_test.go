package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, timeout time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, Config{Timeout: timeout, TTL: 5 * time.Second, RetryInterval: 10 * time.Millisecond}), mr
}

func TestWithLockRunsAndReleases(t *testing.T) {
	l, mr := newTestLocker(t, time.Second)

	called := false
	err := l.WithLock(context.Background(), "1.2.3.4:/login_lock", func(context.Context) error {
		called = true
		assert.True(t, mr.Exists("1.2.3.4:/login_lock"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists("1.2.3.4:/login_lock"))
}

func TestWithLockPropagatesCallbackError(t *testing.T) {
	l, mr := newTestLocker(t, time.Second)
	boom := errors.New("boom")

	err := l.WithLock(context.Background(), "k", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("k"), "lock must be released after a failing callback")
}

func TestWithLockTimesOutWhileHeld(t *testing.T) {
	l, _ := newTestLocker(t, 100*time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- l.WithLock(context.Background(), "Lock_42", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	called := false
	err := l.WithLock(context.Background(), "Lock_42", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.False(t, called)

	close(release)
	require.NoError(t, <-done)

	require.NoError(t, l.WithLock(context.Background(), "Lock_42", func(context.Context) error { return nil }))
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	l, mr := newTestLocker(t, time.Second)

	func() {
		defer func() { _ = recover() }()
		_ = l.WithLock(context.Background(), "panicky", func(context.Context) error {
			panic("worker bug")
		})
	}()

	assert.False(t, mr.Exists("panicky"))
}

func TestWithLockBackendDown(t *testing.T) {
	l, mr := newTestLocker(t, 3*time.Second)
	mr.Close()

	called := false
	err := l.WithLock(context.Background(), "k", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrRedisUnavailable)
	assert.False(t, called)
}
