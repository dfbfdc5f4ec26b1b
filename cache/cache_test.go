package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/fingerprint"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/resilience"
)

const fp = fingerprint.Fingerprint("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")

func entry() Entry {
	return Entry{
		Step:  "train",
		RunID: "run-1",
		Outputs: map[string]artifact.Ref{
			"model": artifact.Pending("train", "model").Resolve("fp-model", "runs/run-1/train/model"),
		},
		CreatedAt: time.Now(),
	}
}

func TestMemory_LookupRecord(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, hit, err := m.Lookup(ctx, fp); hit || err != nil {
		t.Fatalf("empty index: hit=%v err=%v", hit, err)
	}

	e := entry()
	if err := m.Record(ctx, fp, e); err != nil {
		t.Fatal(err)
	}
	// Mutating the caller's copy must not reach the index.
	e.Outputs["model"] = artifact.Ref{}

	refs, hit, err := m.Lookup(ctx, fp)
	if err != nil || !hit {
		t.Fatalf("hit=%v err=%v", hit, err)
	}
	if refs["model"].Location != "runs/run-1/train/model" {
		t.Errorf("refs = %+v", refs)
	}
	refs["model"] = artifact.Ref{}
	again, _, _ := m.Lookup(ctx, fp)
	if again["model"].Location == "" {
		t.Error("lookup result aliases index state")
	}

	// Idempotent and last-write-wins.
	_ = m.Record(ctx, fp, entry())
	second := entry()
	second.RunID = "run-2"
	_ = m.Record(ctx, fp, second)
	if m.Len() != 1 {
		t.Errorf("Len() = %d", m.Len())
	}
	if got, _ := m.Entry(fp); got.RunID != "run-2" || got.Fingerprint != fp {
		t.Errorf("Entry() = %+v", got)
	}
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Record(ctx, fp, entry())
		}()
		go func() {
			defer wg.Done()
			_, _, _ = m.Lookup(ctx, fp)
		}()
	}
	wg.Wait()
	if m.Len() != 1 {
		t.Errorf("Len() = %d", m.Len())
	}
}

type failingIndex struct {
	calls atomic.Int32
}

func (f *failingIndex) Lookup(context.Context, fingerprint.Fingerprint) (map[string]artifact.Ref, bool, error) {
	f.calls.Add(1)
	return nil, false, stderrors.New("connection refused")
}

func (f *failingIndex) Record(context.Context, fingerprint.Fingerprint, Entry) error {
	f.calls.Add(1)
	return stderrors.New("connection refused")
}

func TestGuard_SwallowsErrors(t *testing.T) {
	idx := &failingIndex{}
	g := NewGuard(idx, WithLogger(logger.NewNop()))
	ctx := context.Background()

	refs, hit, err := g.Lookup(ctx, fp)
	if err != nil || hit || refs != nil {
		t.Errorf("Lookup() = %v, %v, %v", refs, hit, err)
	}
	if err := g.Record(ctx, fp, entry()); err != nil {
		t.Errorf("Record() error = %v", err)
	}
}

func TestGuard_BreakerFailsFast(t *testing.T) {
	idx := &failingIndex{}
	g := NewGuard(idx,
		WithLogger(logger.NewNop()),
		WithBreaker(resilience.BreakerPolicy{Enabled: true, MaxFailures: 2, Timeout: time.Hour}),
	)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, _ = g.Lookup(ctx, fp)
	}
	if got := idx.calls.Load(); got != 2 {
		t.Errorf("store called %d times, want 2", got)
	}
	if g.Breaker().State() != resilience.StateOpen {
		t.Errorf("breaker state = %s", g.Breaker().State())
	}
}

func TestGuard_DisabledBreaker(t *testing.T) {
	g := NewGuard(NewMemory(), WithBreaker(resilience.BreakerPolicy{}))
	if g.Breaker() != nil {
		t.Error("disabled policy should not install a breaker")
	}
}

type fakeChecker map[artifact.Location]bool

func (f fakeChecker) Exists(_ context.Context, loc artifact.Location) (bool, error) {
	return f[loc], nil
}

func TestGuard_ArtifactCheck(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Record(ctx, fp, entry())

	tests := []struct {
		name    string
		present bool
		wantHit bool
	}{
		{"artifact present", true, true},
		{"artifact deleted", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := fakeChecker{"runs/run-1/train/model": tt.present}
			g := NewGuard(m, WithArtifactCheck(checker), WithLogger(logger.NewNop()))
			_, hit, err := g.Lookup(ctx, fp)
			if err != nil {
				t.Fatal(err)
			}
			if hit != tt.wantHit {
				t.Errorf("hit = %v, want %v", hit, tt.wantHit)
			}
		})
	}
}

func TestFlight_CollapsesConcurrentCalls(t *testing.T) {
	var f Flight
	var runs atomic.Int32
	release := make(chan struct{})
	want := map[string]artifact.Ref{"o": artifact.Pending("s", "o").Resolve("x", "loc")}

	const callers = 5
	var started sync.WaitGroup
	var wg sync.WaitGroup
	results := make([]map[string]artifact.Ref, callers)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			refs, _, err := f.Do(context.Background(), fp, func() (map[string]artifact.Ref, error) {
				runs.Add(1)
				<-release
				return want, nil
			})
			if err != nil {
				t.Error(err)
			}
			results[i] = refs
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := runs.Load(); got != 1 {
		t.Errorf("fn ran %d times, want 1", got)
	}
	for i, r := range results {
		if r["o"].Location != "loc" {
			t.Errorf("caller %d got %+v", i, r)
		}
	}
}

func TestFlight_WaiterCancelled(t *testing.T) {
	var f Flight
	release := make(chan struct{})
	leading := make(chan struct{})
	defer close(release)

	go func() {
		_, _, _ = f.Do(context.Background(), fp, func() (map[string]artifact.Ref, error) {
			close(leading)
			<-release
			return nil, nil
		})
	}()
	<-leading

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := f.Do(ctx, fp, func() (map[string]artifact.Ref, error) { return nil, nil }); !stderrors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestConfig(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	if c.Store != StoreMemory || c.Breaker.MaxFailures != 5 {
		t.Errorf("defaults = %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	c.Store = "etcd"
	if err := c.Validate(); err == nil {
		t.Error("expected error for unknown store")
	}
}

func TestFlight_LeaderWaitsForFn(t *testing.T) {
	var f Flight
	ctx, cancel := context.WithCancel(context.Background())
	leading := make(chan struct{})
	var returned atomic.Bool

	go func() {
		<-leading
		cancel()
	}()
	_, led, err := f.Do(ctx, fp, func() (map[string]artifact.Ref, error) {
		close(leading)
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		returned.Store(true)
		return nil, ctx.Err()
	})
	if !returned.Load() {
		t.Fatal("Do returned before fn acknowledged cancellation")
	}
	if !led || !stderrors.Is(err, context.Canceled) {
		t.Errorf("led = %v, err = %v", led, err)
	}
}

func TestFlight_LeaderCancelledBeforeStart(t *testing.T) {
	var f Flight
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 50; i++ {
		_, _, err := f.Do(ctx, fp, func() (map[string]artifact.Ref, error) { return nil, ctx.Err() })
		if !stderrors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
}
