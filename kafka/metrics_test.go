package kafka

import (
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

func TestSnapshot(t *testing.T) {
	m := Snapshot(kafkago.WriterStats{
		Topic:     "stepflow.runs",
		Writes:    40,
		Messages:  120,
		Bytes:     4096,
		Errors:    2,
		Retries:   3,
		WriteTime: kafkago.DurationStats{Avg: 4 * time.Millisecond, Max: 30 * time.Millisecond},
	})
	want := WriterMetrics{
		Topic:    "stepflow.runs",
		Writes:   40,
		Messages: 120,
		Bytes:    4096,
		Errors:   2,
		Retries:  3,
		AvgWrite: 4 * time.Millisecond,
		MaxWrite: 30 * time.Millisecond,
	}
	if m != want {
		t.Fatalf("Snapshot() = %+v, want %+v", m, want)
	}
	if m.ErrorRatio() != 0.05 {
		t.Errorf("ErrorRatio() = %v", m.ErrorRatio())
	}
}

func TestWriterMetricsHealth(t *testing.T) {
	tests := []struct {
		name     string
		m        WriterMetrics
		degraded bool
		text     string
	}{
		{"idle", WriterMetrics{}, false, "0 run events, 0 write errors, 0 retries, avg write 0s"},
		{"clean", WriterMetrics{Writes: 5, Messages: 10, AvgWrite: 2 * time.Millisecond}, false, "10 run events, 0 write errors, 0 retries, avg write 2ms"},
		{"failing", WriterMetrics{Writes: 5, Messages: 10, Errors: 1, Retries: 4}, true, "10 run events, 1 write errors, 4 retries, avg write 0s"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.m.Degraded() != tc.degraded {
				t.Errorf("Degraded() = %v", tc.m.Degraded())
			}
			if got := tc.m.String(); got != tc.text {
				t.Errorf("String() = %q", got)
			}
		})
	}
}
