package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"
)

func TestQuantile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}

	for _, tc := range []struct {
		q    float64
		want time.Duration
	}{
		{0, time.Millisecond},
		{0.5, 50 * time.Millisecond},
		{0.99, 99 * time.Millisecond},
		{1, 100 * time.Millisecond},
	} {
		if got := quantile(samples, tc.q); got != tc.want {
			t.Fatalf("quantile(%v) = %s, want %s", tc.q, got, tc.want)
		}
	}
	if got := quantile(nil, 0.99); got != 0 {
		t.Fatalf("empty quantile = %s", got)
	}
}

func TestSummarize(t *testing.T) {
	r := summarize("x", time.Second, []time.Duration{3, 1, 2}, 1)
	if r.ops != 3 || r.failures != 1 || r.p50 != 2 || r.throughput() != 3 {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestRunPhaseCountsEveryOp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	res, err := runPhase(context.Background(), "t", 1000, 1, func(*rand.Rand) error {
		calls++
		if calls%10 == 0 {
			return boom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("runPhase: %v", err)
	}
	if res.ops != 1000 || res.failures != 100 || calls != 1000 {
		t.Fatalf("ops=%d failures=%d calls=%d", res.ops, res.failures, calls)
	}
}
