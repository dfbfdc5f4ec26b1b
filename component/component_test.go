package component

import (
	"context"
	"errors"
	"testing"

	"github.com/kbukum/stepflow/logger"
)

type mockComponent struct {
	name     string
	startErr error
	stopErr  error
	health   Health
	events   *[]string
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	*m.events = append(*m.events, "start:"+m.name)
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	*m.events = append(*m.events, "stop:"+m.name)
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health { return m.health }

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRegisterDuplicate(t *testing.T) {
	var events []string
	r := NewRegistry(logger.NewNop())
	if err := r.Register(&mockComponent{name: "database", events: &events}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(&mockComponent{name: "database", events: &events}); err == nil {
		t.Error("expected error for duplicate registration")
	}
	if r.Get("database") == nil || r.Get("missing") != nil {
		t.Error("unexpected Get result")
	}
}

func TestStartStopOrder(t *testing.T) {
	var events []string
	r := NewRegistry(logger.NewNop())
	for _, name := range []string{"database", "cache", "server"} {
		_ = r.Register(&mockComponent{name: name, events: &events})
	}

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	want := []string{"start:database", "start:cache", "start:server", "stop:server", "stop:cache", "stop:database"}
	if !equal(events, want) {
		t.Errorf("expected %v, got %v", want, events)
	}
}

func TestStartAllStartsLateRegistrations(t *testing.T) {
	var events []string
	r := NewRegistry(logger.NewNop())
	_ = r.Register(&mockComponent{name: "database", events: &events})
	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("first StartAll failed: %v", err)
	}
	_ = r.Register(&mockComponent{name: "server", events: &events})
	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("second StartAll failed: %v", err)
	}
	want := []string{"start:database", "start:server"}
	if !equal(events, want) {
		t.Errorf("expected %v, got %v", want, events)
	}
}

func TestStartFailureStopsOnlyStarted(t *testing.T) {
	var events []string
	r := NewRegistry(logger.NewNop())
	_ = r.Register(&mockComponent{name: "database", events: &events})
	_ = r.Register(&mockComponent{name: "cache", events: &events, startErr: errors.New("refused")})
	_ = r.Register(&mockComponent{name: "server", events: &events})

	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	_ = r.StopAll(context.Background())
	want := []string{"start:database", "start:cache", "stop:database"}
	if !equal(events, want) {
		t.Errorf("expected %v, got %v", want, events)
	}
}

func TestStopAllJoinsErrors(t *testing.T) {
	var events []string
	stopErr := errors.New("flush failed")
	r := NewRegistry(logger.NewNop())
	_ = r.Register(&mockComponent{name: "kafka", events: &events, stopErr: stopErr})
	_ = r.StartAll(context.Background())
	if err := r.StopAll(context.Background()); !errors.Is(err, stopErr) {
		t.Errorf("expected joined stop error, got %v", err)
	}
}

func TestHealthAllAndOverall(t *testing.T) {
	var events []string
	r := NewRegistry(logger.NewNop())
	_ = r.Register(&mockComponent{name: "database", events: &events, health: Health{Name: "database", Status: StatusHealthy}})
	_ = r.Register(&mockComponent{name: "cache", events: &events, health: Health{Name: "cache", Status: StatusDegraded}})

	healths := r.HealthAll(context.Background())
	if len(healths) != 2 {
		t.Fatalf("expected 2 results, got %d", len(healths))
	}
	if got := Overall(healths); got != StatusDegraded {
		t.Errorf("expected degraded, got %s", got)
	}
	healths = append(healths, Health{Name: "kafka", Status: StatusUnhealthy})
	if got := Overall(healths); got != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", got)
	}
}

func TestFunc(t *testing.T) {
	started := false
	f := &Func{
		ComponentName: "artifacts",
		StartFn:       func(context.Context) error { started = true; return nil },
		HealthFn:      func(context.Context) error { return errors.New("bucket missing") },
	}
	if err := f.Start(context.Background()); err != nil || !started {
		t.Fatalf("expected start hook to run, err=%v", err)
	}
	if err := f.Stop(context.Background()); err != nil {
		t.Errorf("nil stop hook should be a no-op, got %v", err)
	}
	h := f.Health(context.Background())
	if h.Status != StatusUnhealthy || h.Message != "bucket missing" {
		t.Errorf("unexpected health %+v", h)
	}
	if (&Func{ComponentName: "x"}).Health(context.Background()).Status != StatusHealthy {
		t.Error("expected healthy without health hook")
	}
}
