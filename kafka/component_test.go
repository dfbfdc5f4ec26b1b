package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/kbukum/stepflow/component"
	"github.com/kbukum/stepflow/logger"
)

type fakePublisher struct {
	started int
	closed  int
	metrics WriterMetrics
}

func (f *fakePublisher) Start(context.Context) error { f.started++; return nil }
func (f *fakePublisher) Close() error                { f.closed++; return nil }
func (f *fakePublisher) Metrics() WriterMetrics      { return f.metrics }

func newTestComponent(pub Publisher, dialErr error) *Component {
	c := NewComponent(Config{Brokers: []string{"localhost:9092"}, Topic: "events"}, pub, logger.NewNop())
	c.probe = func(context.Context, *Config) (int, error) { return 1, dialErr }
	return c
}

func TestComponentLifecycle(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	c := newTestComponent(pub, nil)

	if c.Name() != "kafka" {
		t.Errorf("Name() = %q", c.Name())
	}
	if h := c.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("health before start = %s", h.Status)
	}
	for i := 0; i < 2; i++ {
		if err := c.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	if pub.started != 1 {
		t.Errorf("publisher started %d times", pub.started)
	}
	if h := c.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("health = %+v", h)
	}
	for i := 0; i < 2; i++ {
		if err := c.Stop(ctx); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	if pub.closed != 1 {
		t.Errorf("publisher closed %d times", pub.closed)
	}
}

func TestComponentHealth(t *testing.T) {
	tests := []struct {
		name     string
		dialErr error
		metrics  WriterMetrics
		want     component.HealthStatus
	}{
		{"healthy", nil, WriterMetrics{Messages: 3}, component.StatusHealthy},
		{"unreachable", errors.New("brokers unreachable"), WriterMetrics{}, component.StatusUnhealthy},
		{"write errors", nil, WriterMetrics{Errors: 2}, component.StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestComponent(&fakePublisher{metrics: tt.metrics}, tt.dialErr)
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if h := c.Health(context.Background()); h.Status != tt.want {
				t.Errorf("status = %s (%s), want %s", h.Status, h.Message, tt.want)
			}
		})
	}
}
