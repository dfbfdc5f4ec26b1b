package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/backend"
	"github.com/kbukum/stepflow/cache"
	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/fingerprint"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/observability"
	"github.com/kbukum/stepflow/run"
)

// Plan is one run of a compiled graph.
type Plan struct {
	RunID      string
	RunName    string
	Graph      *dag.Graph
	Resolution *fingerprint.Resolution
	Store      *artifact.Store
	// Sink receives this run's events before the scheduler's sink does.
	Sink run.Sink
}

func (p Plan) validate() error {
	switch {
	case p.RunID == "":
		return fmt.Errorf("scheduler: plan has no run id")
	case p.Graph == nil:
		return fmt.Errorf("scheduler: plan has no graph")
	case p.Resolution == nil:
		return fmt.Errorf("scheduler: plan has no fingerprints")
	case p.Store == nil:
		return fmt.Errorf("scheduler: plan has no artifact store")
	}
	for _, name := range p.Graph.Order() {
		if _, ok := p.Resolution.Fingerprints[name]; !ok {
			return fmt.Errorf("scheduler: step %q has no fingerprint", name)
		}
	}
	return nil
}

// Scheduler runs plans. One Scheduler may execute many plans concurrently;
// executions of the same fingerprint are shared between them.
type Scheduler struct {
	config  Config
	index   cache.Index
	flight  cache.Flight
	sink    run.Sink
	metrics *observability.Metrics
	backend string
	log     *logger.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSink publishes every transition to sink.
func WithSink(sink run.Sink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// WithMetrics records step and run instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBackendName labels spans and logs with the backend kind.
func WithBackendName(name string) Option {
	return func(s *Scheduler) { s.backend = name }
}

// New creates a Scheduler over index. An index that is not already a
// cache.Guard is wrapped in one so store errors never fail a run.
func New(cfg Config, index cache.Index, opts ...Option) *Scheduler {
	cfg.ApplyDefaults()
	if index == nil {
		index = cache.NewMemory()
	}
	s := &Scheduler{
		config: cfg,
		log:    logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := index.(*cache.Guard); !ok {
		index = cache.NewGuard(index, cache.WithMetrics(s.metrics), cache.WithLogger(s.log))
	}
	s.index = index
	s.log = s.log.WithComponent("scheduler")
	return s
}

// Execute runs plan on b and returns once every step is terminal. The error
// is non-nil only for an unusable plan; step failures and cancellation are
// reported in the result.
func (s *Scheduler) Execute(ctx context.Context, plan Plan, b backend.Backend) (*run.Result, error) {
	if err := plan.validate(); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("scheduler: nil backend")
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanRun,
		observability.RunID.String(plan.RunID),
		observability.RunName.String(plan.RunName),
		observability.Backend.String(s.backend),
	)
	defer span.End()

	x := newExecution(s, plan, b)
	res := x.loop(ctx)

	observability.Annotate(ctx, observability.RunStatus.String(string(res.Status)))
	s.metrics.RecordRun(ctx, plan.Graph.Name(), string(res.Status), res.FinishedAt.Sub(res.StartedAt))
	s.log.Info("Run finished", logger.Fields(
		logger.FieldRun, plan.RunID,
		logger.FieldRunName, plan.RunName,
		logger.FieldPipeline, plan.Graph.Name(),
		"status", string(res.Status),
		"cancelled", res.Cancelled,
		logger.FieldDuration, res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	))
	return res, nil
}

func now() time.Time { return time.Now().UTC() }
