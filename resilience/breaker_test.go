package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errIndexDown = errors.New("index down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testBreaker(limit int, onChange func(string, State, State)) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	b := BreakerPolicy{Enabled: true, MaxFailures: limit, Timeout: time.Minute}.NewBreaker("cache", onChange)
	b.now = c.now
	return b, c
}

func fail(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(func() error { return errIndexDown })
	}
}

func TestBreaker_Trips(t *testing.T) {
	b, _ := testBreaker(3, nil)
	fail(b, 2)
	if b.State() != StateClosed || b.Failures() != 2 {
		t.Fatalf("state = %s, failures = %d", b.State(), b.Failures())
	}
	fail(b, 1)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	err := b.Execute(func() error {
		t.Error("call passed an open breaker")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessBreaksRun(t *testing.T) {
	b, _ := testBreaker(3, nil)
	fail(b, 2)
	_ = b.Execute(func() error { return nil })
	fail(b, 2)
	if b.State() != StateClosed || b.Failures() != 2 {
		t.Errorf("state = %s, failures = %d", b.State(), b.Failures())
	}
}

func TestBreaker_CancelledCallsNotCounted(t *testing.T) {
	b, _ := testBreaker(1, nil)
	_ = b.Execute(func() error { return context.Canceled })
	if b.State() != StateClosed || b.Failures() != 0 {
		t.Errorf("state = %s, failures = %d", b.State(), b.Failures())
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	tests := []struct {
		name  string
		trial error
		want  State
	}{
		{"success closes", nil, StateClosed},
		{"failure reopens", errIndexDown, StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, c := testBreaker(1, nil)
			fail(b, 1)
			c.advance(59 * time.Second)
			if b.State() != StateOpen {
				t.Fatalf("opened early: %s", b.State())
			}
			c.advance(time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("expected half-open, got %s", b.State())
			}
			_ = b.Execute(func() error { return tc.trial })
			if got := b.State(); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestBreaker_SingleHalfOpenCall(t *testing.T) {
	b, c := testBreaker(1, nil)
	fail(b, 1)
	c.advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second trial call admitted: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_TransitionsReported(t *testing.T) {
	var seen []string
	b, c := testBreaker(1, func(name string, from, to State) {
		seen = append(seen, name+":"+from.String()+"->"+to.String())
	})
	fail(b, 1)
	c.advance(time.Minute)
	fail(b, 1)
	b.Reset()

	want := []string{
		"cache:closed->open",
		"cache:open->half-open",
		"cache:half-open->open",
		"cache:open->closed",
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestBreaker_Concurrent(t *testing.T) {
	b, _ := testBreaker(1000, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Execute(func() error {
				if i%2 == 0 {
					return errIndexDown
				}
				return nil
			})
			_ = b.State()
		}(i)
	}
	wg.Wait()
}

func TestBreakerPolicy(t *testing.T) {
	var p BreakerPolicy
	p.ApplyDefaults()
	if p.MaxFailures != 5 || p.Timeout != 30*time.Second {
		t.Errorf("unexpected defaults %+v", p)
	}
	if p.NewBreaker("cache", nil) != nil {
		t.Error("expected nil breaker when disabled")
	}
	p.Enabled = true
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b := p.NewBreaker("cache", nil); b == nil || b.State() != StateClosed {
		t.Error("expected closed breaker when enabled")
	}
	bad := BreakerPolicy{Enabled: true, MaxFailures: -1}
	if bad.Validate() == nil {
		t.Error("expected error for negative max_failures")
	}
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if got := state.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}
