package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/backend"
	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/errors"
	"github.com/kbukum/stepflow/fingerprint"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/run"
	"github.com/kbukum/stepflow/scheduler"
)

// Recorder persists finished runs.
type Recorder interface {
	SaveResult(ctx context.Context, res *run.Result) error
}

// Request describes one submission. Exactly one of Pipeline, PipelineName
// and Steps is set.
type Request struct {
	Pipeline     *dag.Pipeline
	PipelineName string
	Steps        []dag.StepSpec
	// Name is used with Steps; it defaults to "pipeline".
	Name string
	// RunName overrides the configured run-name template.
	RunName string
	// Caching overrides every step and pipeline cache setting.
	Caching *bool
	// Sink receives this run's events only.
	Sink run.Sink
}

// Orchestrator accepts submissions and tracks their runs.
type Orchestrator struct {
	cfg      Config
	sched    *scheduler.Scheduler
	store    *artifact.Store
	backend  backend.Backend
	loader   dag.PipelineLoader
	resolver *fingerprint.Resolver
	recorder Recorder
	log      *logger.Logger
	now      func() time.Time

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	runs   map[string]*Run
	done   []string // finished run ids, oldest first
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLoader resolves PipelineName submissions and pipeline includes.
func WithLoader(l dag.PipelineLoader) Option {
	return func(o *Orchestrator) { o.loader = l }
}

// WithRecorder saves every finished run.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock replaces time.Now for run naming.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator that runs plans on sched with b, allocating
// outputs in store.
func New(cfg Config, sched *scheduler.Scheduler, store *artifact.Store, b backend.Backend, opts ...Option) *Orchestrator {
	cfg.ApplyDefaults()
	base, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:     cfg,
		sched:   sched,
		store:   store,
		backend: b,
		log:     logger.GetGlobalLogger(),
		now:     time.Now,
		base:    base,
		stop:    stop,
		runs:    make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.loader == nil {
		o.loader = dag.NewFilePipelineLoader(cfg.PipelineDirs...)
	}
	o.log = o.log.WithComponent("orchestrator")
	o.resolver = fingerprint.NewResolver(o.log)
	return o
}

// Submit compiles and resolves the request, then starts the run in the
// background. Compile and naming errors are returned before anything runs.
// ctx only bounds the submission; the run continues after it is done.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Run, error) {
	g, err := o.compile(req)
	if err != nil {
		return nil, err
	}

	template := req.RunName
	if template == "" {
		template = o.cfg.RunName
	}
	if template == "" {
		template = DefaultRunName(g.Name())
	}
	if err := ValidateRunName(template); err != nil {
		return nil, errors.InvalidInput("run_name", err.Error())
	}

	submitted := o.now()
	id := uuid.NewString()
	res, err := o.resolver.Resolve(g, fingerprint.CacheContext{
		Namespace:         o.cfg.Namespace,
		ArtifactStoreID:   o.store.ID(),
		ArtifactStoreRoot: o.store.Root(),
		RunNonce:          id,
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	r := &Run{
		ID:          id,
		Name:        FormatRunName(template, submitted),
		Pipeline:    g.Name(),
		SubmittedAt: submitted,
		graph:       g,
		tracker:     run.NewTracker(),
		done:        make(chan struct{}),
	}
	plan := scheduler.Plan{
		RunID:      r.ID,
		RunName:    r.Name,
		Graph:      g,
		Resolution: res,
		Store:      o.store,
		Sink:       run.Multi(req.Sink, r.tracker),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, errors.ServiceUnavailable("orchestrator")
	}
	runCtx, cancel := context.WithCancel(o.base)
	r.cancel = cancel
	o.runs[r.ID] = r
	o.wg.Add(1)
	o.mu.Unlock()

	o.log.Info("Run submitted", logger.Fields(
		logger.FieldRun, r.ID,
		logger.FieldRunName, r.Name,
		logger.FieldPipeline, r.Pipeline,
		"steps", g.Len(),
	))
	go o.execute(runCtx, r, plan)
	return r, nil
}

// Run submits req and waits for the result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*run.Result, error) {
	r, err := o.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.Wait(ctx)
}

func (o *Orchestrator) compile(req Request) (*dag.Graph, error) {
	opts := []dag.CompileOption{dag.WithRunCacheOverride(req.Caching)}
	switch {
	case req.Pipeline != nil:
		return dag.ResolvePipeline(req.Pipeline, o.loader, opts...)
	case req.PipelineName != "":
		p, err := o.loader.Load(req.PipelineName)
		if err != nil {
			return nil, errors.NotFound("pipeline", req.PipelineName).WithCause(err)
		}
		return dag.ResolvePipeline(p, o.loader, opts...)
	case len(req.Steps) > 0:
		if req.Name != "" {
			opts = append(opts, dag.WithPipelineName(req.Name))
		}
		return dag.Compile(req.Steps, opts...)
	default:
		return nil, errors.Validation("submission has no pipeline or steps")
	}
}

func (o *Orchestrator) execute(ctx context.Context, r *Run, plan scheduler.Plan) {
	defer o.wg.Done()
	defer r.cancel()

	res, err := o.sched.Execute(ctx, plan, o.backend)
	if err == nil && o.recorder != nil {
		if rerr := o.recorder.SaveResult(context.WithoutCancel(ctx), res); rerr != nil {
			o.log.Error("Saving run result failed", logger.Fields(
				logger.FieldRun, r.ID,
				logger.FieldError, rerr.Error(),
			))
		}
	}
	if err != nil {
		o.log.Error("Run could not start", logger.Fields(
			logger.FieldRun, r.ID,
			logger.FieldError, err.Error(),
		))
	}
	o.retire(r.ID)
	r.finish(res, err)
}

// retire moves a finished run into the bounded history.
func (o *Orchestrator) retire(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = append(o.done, id)
	for len(o.done) > o.cfg.History {
		delete(o.runs, o.done[0])
		o.done = o.done[1:]
	}
}

// Get returns a run that is active or in recent history.
func (o *Orchestrator) Get(id string) (*Run, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runs[id]
	return r, ok
}

// List returns known runs, newest submission first.
func (o *Orchestrator) List() []*Run {
	o.mu.RLock()
	out := make([]*Run, 0, len(o.runs))
	for _, r := range o.runs {
		out = append(out, r)
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Cancel stops an active run. Cancelling a finished run is a conflict.
func (o *Orchestrator) Cancel(id string) error {
	r, ok := o.Get(id)
	if !ok {
		return errors.NotFound("run", id)
	}
	select {
	case <-r.done:
		return errors.Conflict(fmt.Sprintf("run %s has already finished", id))
	default:
	}
	o.log.Info("Cancelling run", logger.Fields(logger.FieldRun, id))
	r.cancel()
	return nil
}

// Shutdown rejects new submissions, cancels active runs and waits for them
// to wind down or ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()

	drained := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}
