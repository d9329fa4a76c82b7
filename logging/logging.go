// Package logging builds the JSON slog loggers used by the guard binaries.
// Records logged with a context that carries an OpenTelemetry span get its
// trace_id and span_id.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type (
	// Option configures New.
	Option func(o *options)

	options struct {
		output     io.Writer
		level      slog.Leveler
		name       string
		attributes []slog.Attr
	}
)

// WithOutput directs records to w. The default is stderr.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

// WithLevel sets the minimum level. The default is info.
func WithLevel(level slog.Leveler) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithName sets the "logger" attribute of every record.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithAttributes adds default attributes to every record.
func WithAttributes(attrs ...slog.Attr) Option {
	return func(o *options) {
		o.attributes = append(o.attributes, attrs...)
	}
}

// New returns a JSON logger with trace correlation.
func New(opts ...Option) *slog.Logger {
	o := options{
		output: os.Stderr,
		level:  slog.LevelInfo,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var handler slog.Handler = slog.NewJSONHandler(o.output, &slog.HandlerOptions{Level: o.level})
	handler = &traceHandler{next: handler}

	attrs := o.attributes
	if o.name != "" {
		attrs = append([]slog.Attr{slog.String("logger", o.name)}, attrs...)
	}
	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}
	return slog.New(handler)
}

// Named derives a child logger whose "component" attribute is name.
func Named(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger.With(slog.String("component", name))
}

// ParseLevel maps debug, info, warn and error (any case) to a level and
// falls back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type traceHandler struct {
	next slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx != nil {
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			record.AddAttrs(
				slog.String("trace_id", spanCtx.TraceID().String()),
				slog.String("span_id", spanCtx.SpanID().String()),
			)
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{next: h.next.WithGroup(name)}
}
