package observability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{Enabled: true}, false},
		{"sample rate above one", Config{SampleRate: 1.5}, true},
		{"negative sample rate", Config{SampleRate: -0.1}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			cfg.ApplyDefaults()
			if err := cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}

	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Endpoint != "localhost:4318" || cfg.SampleRate != 1.0 || cfg.MetricInterval != 15*time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestNewMetricsNoop(t *testing.T) {
	metrics, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	metrics.RecordRun(ctx, "training", "completed", time.Second)
	metrics.StepStarted(ctx)
	metrics.StepFinished(ctx, "train", "succeeded", time.Millisecond)
	metrics.RecordCacheLookup(ctx, true)
	metrics.RecordCacheError(ctx, "lookup")
	metrics.RecordEvent(ctx, "log")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordRun(ctx, "p", "failed", 0)
	m.StepStarted(ctx)
	m.StepFinished(ctx, "s", "failed", 0)
	m.RecordStep(ctx, "s", "skipped")
	m.RecordCacheLookup(ctx, false)
	m.RecordCacheError(ctx, "record")
	m.RecordEvent(ctx, "kafka")
}

func TestMetricsCollected(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	metrics.RecordCacheLookup(ctx, true)
	metrics.RecordCacheLookup(ctx, false)
	metrics.RecordCacheLookup(ctx, false)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "stepflow.cache.lookups" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 3 {
		t.Errorf("expected 3 lookups recorded, got %d", total)
	}
}

func withRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestSpanAttributesAndFailure(t *testing.T) {
	exporter := withRecorder(t)

	ctx, span := StartSpan(context.Background(), SpanStep, RunID.String("r-1"), Step.String("train"))
	Annotate(ctx, CacheHit.Bool(false))
	Fail(ctx, fmt.Errorf("exit status 1"))
	Fail(ctx, nil)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := spans[0]
	if got.Name != SpanStep || got.Status.Code != codes.Error {
		t.Errorf("span = %s status %v", got.Name, got.Status.Code)
	}
	if len(got.Attributes) != 3 {
		t.Errorf("expected 3 attributes, got %v", got.Attributes)
	}
	if len(got.Events) != 1 {
		t.Errorf("expected one recorded error event, got %d", len(got.Events))
	}
}

func TestChildSpanShareTrace(t *testing.T) {
	exporter := withRecorder(t)

	ctx, run := StartSpan(context.Background(), SpanRun)
	_, step := StartSpan(ctx, SpanStep)
	step.End()
	run.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].SpanContext.TraceID() != spans[1].SpanContext.TraceID() {
		t.Error("step span not in the run trace")
	}
}

func TestHelpersWithoutSpan(t *testing.T) {
	Annotate(context.Background(), Step.String("x"))
	Fail(context.Background(), fmt.Errorf("no span"))
}

func TestInstall(t *testing.T) {
	prevT, prevM := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevT)
		otel.SetMeterProvider(prevM)
	})

	cfg := Config{Enabled: true, Insecure: true, SampleRate: 0.5}
	cfg.ApplyDefaults()
	p, err := Install(context.Background(), cfg, Service{Name: "stepflowd", Version: "v1", Environment: "development"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if otel.GetTracerProvider() != p.Tracer || otel.GetMeterProvider() != p.Meter {
		t.Error("providers not installed globally")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Nothing listens on the endpoint; only the flush may fail.
	_ = p.Shutdown(ctx)
}
