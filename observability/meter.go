package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the instruments recorded while pipelines run.
type Metrics struct {
	runTotal       metric.Int64Counter
	runDuration    metric.Float64Histogram
	stepTotal      metric.Int64Counter
	stepDuration   metric.Float64Histogram
	stepsInFlight  metric.Int64UpDownCounter
	cacheLookups   metric.Int64Counter
	cacheErrors    metric.Int64Counter
	transitionsOut metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.runTotal, err = meter.Int64Counter("stepflow.run.total",
		metric.WithDescription("Finished runs by terminal status")); err != nil {
		return nil, fmt.Errorf("creating stepflow.run.total counter: %w", err)
	}
	if m.runDuration, err = meter.Float64Histogram("stepflow.run.duration",
		metric.WithDescription("Wall time of runs in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating stepflow.run.duration histogram: %w", err)
	}
	if m.stepTotal, err = meter.Int64Counter("stepflow.step.total",
		metric.WithDescription("Steps reaching a terminal state")); err != nil {
		return nil, fmt.Errorf("creating stepflow.step.total counter: %w", err)
	}
	if m.stepDuration, err = meter.Float64Histogram("stepflow.step.duration",
		metric.WithDescription("Backend execution time of steps in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating stepflow.step.duration histogram: %w", err)
	}
	if m.stepsInFlight, err = meter.Int64UpDownCounter("stepflow.step.in_flight",
		metric.WithDescription("Steps currently running on a backend")); err != nil {
		return nil, fmt.Errorf("creating stepflow.step.in_flight gauge: %w", err)
	}
	if m.cacheLookups, err = meter.Int64Counter("stepflow.cache.lookups",
		metric.WithDescription("Cache lookups by outcome")); err != nil {
		return nil, fmt.Errorf("creating stepflow.cache.lookups counter: %w", err)
	}
	if m.cacheErrors, err = meter.Int64Counter("stepflow.cache.errors",
		metric.WithDescription("Cache index errors by operation")); err != nil {
		return nil, fmt.Errorf("creating stepflow.cache.errors counter: %w", err)
	}
	if m.transitionsOut, err = meter.Int64Counter("stepflow.events.published",
		metric.WithDescription("State transition events handed to sinks")); err != nil {
		return nil, fmt.Errorf("creating stepflow.events.published counter: %w", err)
	}
	return &m, nil
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(ctx context.Context, pipeline, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("status", status),
	))
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("pipeline", pipeline)))
}

// StepStarted increments the in-flight gauge.
func (m *Metrics) StepStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.stepsInFlight.Add(ctx, 1)
}

// StepFinished decrements the in-flight gauge and records the execution time.
func (m *Metrics) StepFinished(ctx context.Context, step, state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepsInFlight.Add(ctx, -1)
	m.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("step", step)))
	m.RecordStep(ctx, step, state)
}

// RecordStep counts a step reaching a terminal state without running, such as
// a cache hit or skip.
func (m *Metrics) RecordStep(ctx context.Context, step, state string) {
	if m == nil {
		return
	}
	m.stepTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("state", state),
	))
}

// RecordCacheLookup records a lookup outcome: hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCacheError records a failed index operation.
func (m *Metrics) RecordCacheError(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.cacheErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

// RecordEvent counts a transition event handed to a sink.
func (m *Metrics) RecordEvent(ctx context.Context, sink string) {
	if m == nil {
		return
	}
	m.transitionsOut.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
