// Command guard-worker runs the rate limit and lockout consumers.
//
// Configuration comes from .env and GUARD_* variables (see
// goGuard.ConfigFromEnv) plus:
//
//	GUARD_BROKER          rabbitmq (default) | nats | memory
//	GUARD_REDIS_URL       redis://host:port/db
//	GUARD_DATABASE_URL    PostgreSQL url of the users table
//	GUARD_METRICS_ADDR    address of the Prometheus endpoint, empty disables it
//	GUARD_LOG_LEVEL       debug | info | warn | error
//	SENTRY_DSN            enables error reporting
//	OTEL_EXPORTER_OTLP_ENDPOINT  enables span export
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/internal/service"
	"github.com/MrEthical07/goGuard/logging"
	promexport "github.com/MrEthical07/goGuard/metrics/export/prometheus"
	"github.com/MrEthical07/goGuard/store/pgstore"
)

var version = "dev"

func main() {
	logger := logging.New(
		logging.WithName("guard-worker"),
		logging.WithLevel(logging.ParseLevel(service.Env("GUARD_LOG_LEVEL", "info"))),
	)

	if err := run(logger); err != nil && !errors.Is(err, context.Canceled) {
		service.Report(context.Background(), logger, "worker stopped", err)
		service.FlushSentry()
		os.Exit(1)
	}
	service.FlushSentry()
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := service.LoadConfig()
	if err != nil {
		return err
	}
	cfg.Metrics.Enabled = true

	if err := service.InitSentry(os.Getenv("SENTRY_DSN"), service.Env("GUARD_ENVIRONMENT", "development")); err != nil {
		return fmt.Errorf("cannot init sentry: %w", err)
	}

	tp, shutdownTracing, err := service.TracerProvider(ctx, "guard-worker", version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("cannot stop tracing", slog.Any("error", err))
		}
	}()

	rdb, err := service.Redis(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	users, err := pgstore.Connect(ctx, service.Env("GUARD_DATABASE_URL", "postgres://localhost:5432/guard"))
	if err != nil {
		return err
	}
	defer users.Close()

	broker, err := service.OpenBroker(service.Env("GUARD_BROKER", service.BrokerRabbitMQ), "guard-worker")
	if err != nil {
		return err
	}
	defer broker.Close()

	engine, err := goGuard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithPublisher(broker.Publisher).
		WithLogger(logger).
		WithAuditSink(goGuard.NewSlogSink(logger)).
		WithTracerProvider(tp).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	logger.InfoContext(
		ctx,
		"starting workers",
		slog.String("broker", broker.Kind),
		slog.String("version", version),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.RateLimitConsumer(broker.Dial).Run(ctx)
	})
	g.Go(func() error {
		return engine.LockoutConsumer(broker.Dial).Run(ctx)
	})

	if addr := os.Getenv("GUARD_METRICS_ADDR"); addr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, logger, addr, engine)
		})
	}

	err = g.Wait()
	logger.Info("workers stopped")
	return err
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string, engine *goGuard.Engine) error {
	handler, err := promexport.Handler(promexport.NewCollector(engine, map[string]string{"service": "guard-worker"}))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server started", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("cannot serve metrics: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("cannot shutdown metrics server: %w", err)
	}
	return nil
}
