// Package telemetry defines the Logger/Metrics/Tracer triplet that the
// executor, the workflow engines, and the orchestrator Engine accept through
// their constructors rather than reaching for a package-level singleton
// (spec §9, "global singletons"); the breaker registry takes Metrics alone
// via WithMetrics.
// The production binding wraps goa.design/clue + OpenTelemetry; tests use
// the Noop implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the orchestrator.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so components remain agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Triplet bundles Logger, Metrics, and Tracer for single-argument injection
// into component constructors.
type Triplet struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}

// Noop returns a Triplet that discards everything; used by components under
// test and as the zero-value fallback.
func Noop() Triplet {
	return Triplet{Logger: NoopLogger{}, Metrics: NoopMetrics{}, Tracer: NoopTracer{}}
}
