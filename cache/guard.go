package cache

import (
	"context"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/fingerprint"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/observability"
	"github.com/kbukum/stepflow/resilience"
)

// ArtifactChecker reports whether a stored artifact still exists.
type ArtifactChecker interface {
	Exists(ctx context.Context, loc artifact.Location) (bool, error)
}

// Guard wraps an Index so that it never fails a run. Lookup errors become
// misses and Record errors are logged and dropped. An optional circuit
// breaker stops calling a store that keeps failing, and an optional
// artifact check turns hits whose artifacts are gone into misses.
type Guard struct {
	index   Index
	name    string
	breaker *resilience.Breaker
	checker ArtifactChecker
	metrics *observability.Metrics
	log     *logger.Logger
}

var _ Index = (*Guard)(nil)

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithName labels the wrapped store in logs.
func WithName(name string) GuardOption {
	return func(g *Guard) { g.name = name }
}

// WithBreaker installs a circuit breaker built from policy. A disabled
// policy installs nothing.
func WithBreaker(policy resilience.BreakerPolicy) GuardOption {
	return func(g *Guard) {
		policy.ApplyDefaults()
		g.breaker = policy.NewBreaker("cache", func(name string, from, to resilience.State) {
			g.log.Warn("Cache circuit breaker state changed", logger.Fields(
				logger.FieldBackend, g.name,
				logger.FieldFrom, from.String(),
				logger.FieldTo, to.String(),
			))
		})
	}
}

// WithArtifactCheck verifies every output of a hit before returning it.
func WithArtifactCheck(checker ArtifactChecker) GuardOption {
	return func(g *Guard) { g.checker = checker }
}

// WithMetrics records lookups and errors.
func WithMetrics(m *observability.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

// NewGuard wraps index.
func NewGuard(index Index, opts ...GuardOption) *Guard {
	g := &Guard{
		index: index,
		name:  "cache",
		log:   logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.WithComponent("cache")
	return g
}

// Breaker returns the installed breaker, or nil.
func (g *Guard) Breaker() *resilience.Breaker { return g.breaker }

// Lookup never returns an error.
func (g *Guard) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (map[string]artifact.Ref, bool, error) {
	var (
		refs map[string]artifact.Ref
		hit  bool
	)
	err := g.call(func() error {
		var err error
		refs, hit, err = g.index.Lookup(ctx, fp)
		return err
	})
	if err != nil {
		g.metrics.RecordCacheError(ctx, "lookup")
		g.log.Warn("Cache lookup failed, treating as miss", logger.Fields(
			logger.FieldBackend, g.name,
			logger.FieldFingerprint, fp.Short(),
			logger.FieldError, err.Error(),
		))
		g.metrics.RecordCacheLookup(ctx, false)
		return nil, false, nil
	}

	if hit && g.checker != nil && !g.artifactsPresent(ctx, fp, refs) {
		hit = false
		refs = nil
	}
	g.metrics.RecordCacheLookup(ctx, hit)
	return refs, hit, nil
}

func (g *Guard) artifactsPresent(ctx context.Context, fp fingerprint.Fingerprint, refs map[string]artifact.Ref) bool {
	for name, ref := range refs {
		ok, err := g.checker.Exists(ctx, ref.Location)
		if err != nil || !ok {
			fields := logger.Fields(
				logger.FieldFingerprint, fp.Short(),
				"output", name,
				"location", string(ref.Location),
			)
			if err != nil {
				fields[logger.FieldError] = err.Error()
			}
			g.log.Info("Cached artifact missing, treating as miss", fields)
			return false
		}
	}
	return true
}

// Record never returns an error.
func (g *Guard) Record(ctx context.Context, fp fingerprint.Fingerprint, entry Entry) error {
	err := g.call(func() error {
		return g.index.Record(ctx, fp, entry)
	})
	if err != nil {
		g.metrics.RecordCacheError(ctx, "record")
		g.log.Warn("Cache record failed", logger.Fields(
			logger.FieldBackend, g.name,
			logger.FieldFingerprint, fp.Short(),
			logger.FieldStep, entry.Step,
			logger.FieldError, err.Error(),
		))
	}
	return nil
}

func (g *Guard) call(fn func() error) error {
	if g.breaker == nil {
		return fn()
	}
	return g.breaker.Execute(fn)
}
