package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/kbukum/stepflow"

// Span names.
const (
	SpanRun         = "stepflow.run"
	SpanStep        = "stepflow.step"
	SpanCacheLookup = "stepflow.cache.lookup"
)

// Span attributes.
const (
	RunID       = attribute.Key("stepflow.run_id")
	RunName     = attribute.Key("stepflow.run_name")
	Step        = attribute.Key("stepflow.step")
	Fingerprint = attribute.Key("stepflow.fingerprint")
	Backend     = attribute.Key("stepflow.backend")
	CacheHit    = attribute.Key("stepflow.cache_hit")
	RunStatus   = attribute.Key("stepflow.status")
)

// StartSpan starts a span from the global tracer provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Annotate sets attributes on the span in ctx, if it records.
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// Fail records err on the span in ctx and marks it failed.
func Fail(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
