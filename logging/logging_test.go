package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	return record
}

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WithOutput(&buf), WithName("guard-worker"), WithAttributes(slog.String("version", "test")))

	Named(logger, "lockout").Info("account locked", slog.String("user_id", "42"))

	record := decode(t, &buf)
	assert.Equal(t, "account locked", record["msg"])
	assert.Equal(t, "guard-worker", record["logger"])
	assert.Equal(t, "lockout", record["component"])
	assert.Equal(t, "test", record["version"])
	assert.Equal(t, "42", record["user_id"])
	assert.NotContains(t, record, "trace_id")
}

func TestTraceCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WithOutput(&buf))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	logger.InfoContext(ctx, "penalty applied")

	record := decode(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), record["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), record["span_id"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WithOutput(&buf), WithLevel(ParseLevel("WARN")))

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.NotZero(t, buf.Len())

	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
