// Command guard-loadtest measures the hot paths of the engine against Redis
// or an embedded miniredis: counter updates, admission checks, full
// admissions with an in-process rate-limit worker, and token verification.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/logging"
	"github.com/MrEthical07/goGuard/queue/memqueue"
)

const (
	route     = "/api/v1/loadtest"
	userAgent = "guard-loadtest"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed, color.Bold)
)

type options struct {
	identities  int
	concurrency int
	ops         int
	maxAttempts int
	redisAddr   string
}

func main() {
	var o options
	flag.IntVar(&o.identities, "identities", 10000, "distinct client identities")
	flag.IntVar(&o.concurrency, "concurrency", 256, "concurrent workers per phase")
	flag.IntVar(&o.ops, "ops", 200000, "operations per phase")
	flag.IntVar(&o.maxAttempts, "max-attempts", 50, "requests per window before a penalty")
	flag.StringVar(&o.redisAddr, "redis-addr", os.Getenv("GUARD_REDIS_ADDR"), "redis address; empty starts a miniredis")
	flag.Parse()

	if o.identities <= 0 || o.concurrency <= 0 || o.ops <= 0 || o.maxAttempts <= 0 {
		failColor.Fprintln(os.Stderr, "identities, concurrency, ops and max-attempts must be > 0")
		os.Exit(2)
	}
	if err := run(context.Background(), o); err != nil {
		failColor.Fprintf(os.Stderr, "guard-loadtest: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	client, closeRedis, err := openRedis(o.redisAddr)
	if err != nil {
		return err
	}
	defer closeRedis()

	broker := memqueue.New()
	defer broker.Close()

	cfg := goGuard.DefaultConfig()
	cfg.Token.PrivateKey = []byte("guard-loadtest-signing-key-0123456789")
	cfg.RateLimit.Fallback = goGuard.RouteLimit{MaxAttempts: o.maxAttempts, Penalty: time.Minute}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := goGuard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPublisher(broker).
		WithLogger(logging.New(logging.WithOutput(io.Discard))).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go func() { _ = engine.RateLimitConsumer(broker.Dial).Run(workerCtx) }()

	ips := make([]string, o.identities)
	tokens := make([]string, o.identities)
	issued := time.Now()
	for i := range ips {
		ips[i] = fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xFF, (i>>8)&0xFF, i&0xFF)
		tokens[i], _, err = engine.IssueToken(ctx, goGuard.IssueRequest{
			UserID:    fmt.Sprintf("user-%d", i),
			TokenType: goGuard.TokenTypeAccess,
			IP:        ips[i],
			UserAgent: userAgent,
		})
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
	}
	fmt.Printf("issued %d tokens in %s\n", len(tokens), time.Since(issued).Round(time.Millisecond))

	// A penalty is the expected answer once an identity runs hot.
	throttled := func(err error) error {
		if errors.Is(err, goGuard.ErrRateLimited) {
			return nil
		}
		return err
	}

	phases := []struct {
		name string
		op   func(*rand.Rand) error
	}{
		{"record", func(r *rand.Rand) error {
			_, err := engine.RecordRequest(ctx, ips[r.IntN(len(ips))], route)
			return err
		}},
		{"check", func(r *rand.Rand) error {
			return throttled(engine.AdmissionCheck(ctx, ips[r.IntN(len(ips))], route))
		}},
		{"admit", func(r *rand.Rand) error {
			return throttled(engine.Admit(ctx, ips[r.IntN(len(ips))], route))
		}},
		{"verify", func(r *rand.Rand) error {
			i := r.IntN(len(ips))
			_, err := engine.VerifyToken(ctx, tokens[i], ips[i], userAgent)
			return err
		}},
	}

	results := make([]result, 0, len(phases))
	for _, p := range phases {
		res, err := runPhase(ctx, p.name, o.ops, o.concurrency, p.op)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	headerColor.Println("---- results ----")
	for _, r := range results {
		r.print()
	}
	snap := engine.MetricsSnapshot()
	fmt.Printf("penalties=%d rejected=%d published=%d publish_failures=%d\n",
		snap.Counters[goGuard.MetricPenaltyApplied],
		snap.Counters[goGuard.MetricAdmissionRejected],
		snap.Counters[goGuard.MetricRateEventPublished],
		snap.Counters[goGuard.MetricPublishFailure],
	)
	return nil
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPhase spreads ops calls of op over concurrency workers. Each worker
// keeps its own samples so the hot loop takes no locks.
func runPhase(ctx context.Context, name string, ops, concurrency int, op func(*rand.Rand) error) (result, error) {
	var (
		next     atomic.Int64
		failures atomic.Int64
		samples  = make([][]time.Duration, concurrency)
	)

	g, _ := errgroup.WithContext(ctx)
	start := time.Now()
	for w := range concurrency {
		g.Go(func() error {
			r := rand.New(rand.NewPCG(uint64(w), uint64(start.UnixNano())))
			for next.Add(1) <= int64(ops) {
				t0 := time.Now()
				if err := op(r); err != nil {
					failures.Add(1)
				}
				samples[w] = append(samples[w], time.Since(t0))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}
	return summarize(name, time.Since(start), slices.Concat(samples...), failures.Load()), nil
}

type result struct {
	name          string
	elapsed       time.Duration
	ops           int
	failures      int64
	p50, p95, p99 time.Duration
}

func summarize(name string, elapsed time.Duration, samples []time.Duration, failures int64) result {
	slices.Sort(samples)
	return result{
		name:     name,
		elapsed:  elapsed,
		ops:      len(samples),
		failures: failures,
		p50:      quantile(samples, 0.50),
		p95:      quantile(samples, 0.95),
		p99:      quantile(samples, 0.99),
	}
}

// quantile returns the nearest-rank q-quantile of sorted samples.
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(q*float64(len(sorted))+0.5) - 1
	return sorted[min(max(rank, 0), len(sorted)-1)]
}

func (r result) throughput() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.ops) / r.elapsed.Seconds()
}

func (r result) print() {
	c := okColor
	switch {
	case r.failures > 0 && r.failures*100 >= int64(r.ops):
		c = failColor
	case r.failures > 0:
		c = warnColor
	}
	c.Printf("%-7s ops=%d failures=%d elapsed=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		r.name, r.ops, r.failures,
		r.elapsed.Round(time.Millisecond), r.throughput(),
		r.p50.Round(time.Microsecond), r.p95.Round(time.Microsecond), r.p99.Round(time.Microsecond),
	)
}
