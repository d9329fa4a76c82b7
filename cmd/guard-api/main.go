// Command guard-api serves the login, logout and sample routes behind the
// admission check.
//
// It reads the same environment as guard-worker, plus GUARD_HTTP_ADDR
// (default :8080).
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

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/internal/service"
	"github.com/MrEthical07/goGuard/logging"
	promexport "github.com/MrEthical07/goGuard/metrics/export/prometheus"
	"github.com/MrEthical07/goGuard/store/gormstore"
)

var version = "dev"

func main() {
	logger := logging.New(
		logging.WithName("guard-api"),
		logging.WithLevel(logging.ParseLevel(service.Env("GUARD_LOG_LEVEL", "info"))),
	)

	if err := run(logger); err != nil {
		service.Report(context.Background(), logger, "server stopped", err)
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

	tp, shutdownTracing, err := service.TracerProvider(ctx, "guard-api", version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	rdb, err := service.Redis(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	users, err := gormstore.Open(service.Env("GUARD_DATABASE_URL", "postgres://localhost:5432/guard"), "users")
	if err != nil {
		return err
	}

	broker, err := service.OpenBroker(service.Env("GUARD_BROKER", service.BrokerRabbitMQ), "guard-api")
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

	metrics, err := promexport.Handler(promexport.NewCollector(engine, map[string]string{"service": "guard-api"}))
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              service.Env("GUARD_HTTP_ADDR", ":8080"),
		Handler:           newRouter(engine, logger, metrics),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", slog.String("addr", server.Addr), slog.String("broker", broker.Kind))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("cannot serve http: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("cannot shutdown http server: %w", err)
	}
	return nil
}
