package scheduler

import (
	"context"
	"maps"
	"time"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/backend"
	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/fingerprint"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/run"
)

type messageKind int

const (
	// msgStarted: the step missed the cache and is about to run.
	msgStarted messageKind = iota
	msgCached
	msgFinished
	// msgAbandoned: the run was cancelled before the step started.
	msgAbandoned
)

// message is how workers report to the loop.
type message struct {
	step   string
	kind   messageKind
	reason string
	refs   map[string]artifact.Ref
	err    error
	at     time.Time
}

// job is everything a worker needs; it never reads loop state.
type job struct {
	step     dag.StepSpec
	fp       fingerprint.Fingerprint
	inputs   map[string]artifact.Ref
	literals map[string]any
	// cacheable steps are looked up before and recorded after execution.
	cacheable  bool
	missReason string
}

// execution is the state of one Execute call. Everything except messages
// is owned by the loop goroutine.
type execution struct {
	s          *Scheduler
	plan       Plan
	backend    backend.Backend
	sink       run.Sink
	result     *run.Result
	dispatched map[string]bool
	inFlight   int
	messages   chan message
	log        *logger.Logger
}

func newExecution(s *Scheduler, plan Plan, b backend.Backend) *execution {
	g := plan.Graph
	res := &run.Result{
		RunID:    plan.RunID,
		Name:     plan.RunName,
		Pipeline: g.Name(),
		Status:   run.StatusPending,
		Order:    g.Order(),
		Edges:    g.Edges(),
		Steps:    make(map[string]*run.StepResult, g.Len()),
	}
	for _, name := range res.Order {
		res.Steps[name] = &run.StepResult{
			Name:        name,
			State:       run.StepPending,
			Fingerprint: plan.Resolution.Of(name),
		}
	}
	log := s.log.WithFields(logger.Fields(
		logger.FieldRun, plan.RunID,
		logger.FieldPipeline, g.Name(),
	))
	return &execution{
		s:          s,
		plan:       plan,
		backend:    b,
		sink:       run.Multi(plan.Sink, s.sink),
		result:     res,
		dispatched: make(map[string]bool, g.Len()),
		messages:   make(chan message, s.config.MaxInFlight),
		log:        log,
	}
}

// loop drives the run until no step is pending or in flight.
func (x *execution) loop(ctx context.Context) *run.Result {
	x.result.StartedAt = now()
	x.setStatus(ctx, run.StatusRunning, "")

	for {
		x.observeCancel(ctx)
		if !x.result.Cancelled {
			x.dispatchReady(ctx)
		}
		if x.inFlight == 0 {
			break
		}
		done := ctx.Done()
		if x.result.Cancelled {
			done = nil
		}
		select {
		case m := <-x.messages:
			// Cancellation is applied before the message so that steps
			// left pending are reported as cancelled, not upstream_failed.
			x.observeCancel(ctx)
			x.apply(ctx, m)
		case <-done:
		}
	}

	x.result.FinishedAt = now()
	reason := ""
	if x.result.Cancelled {
		reason = run.ReasonCancelled
	}
	x.setStatus(ctx, decideStatus(x.plan.Graph, x.result), reason)
	return x.result
}

// dispatchReady starts pending steps whose upstream all succeeded, in
// topological order, until the in-flight bound is reached.
func (x *execution) dispatchReady(ctx context.Context) {
	for _, name := range x.result.Order {
		if x.inFlight >= x.s.config.MaxInFlight {
			return
		}
		if x.result.Steps[name].State != run.StepPending || x.dispatched[name] || !x.ready(name) {
			continue
		}
		j := x.newJob(name)
		if len(j.inputs) > 0 {
			x.result.Steps[name].Inputs = maps.Clone(j.inputs)
		}
		x.dispatched[name] = true
		x.inFlight++
		go x.work(ctx, j)
	}
}

func (x *execution) ready(name string) bool {
	for _, up := range x.plan.Graph.Upstream(name) {
		if x.result.Steps[up].State != run.StepSucceeded {
			return false
		}
	}
	return true
}

// newJob binds the step's inputs to the concrete outputs of its upstream.
func (x *execution) newJob(name string) job {
	step, _ := x.plan.Graph.Step(name)
	j := job{
		step:      step,
		fp:        x.plan.Resolution.Of(name),
		inputs:    make(map[string]artifact.Ref),
		literals:  make(map[string]any),
		cacheable: !x.plan.Resolution.Salted[name],
	}
	for _, in := range step.Inputs {
		if !in.IsRef() {
			j.literals[in.Name] = in.Literal
			continue
		}
		j.inputs[in.Name] = x.result.Steps[in.Ref.Step].Outputs[in.Ref.Output]
	}
	switch {
	case x.plan.Resolution.Forced(name):
		j.missReason = run.ReasonForcedMiss
	case !x.plan.Graph.CacheEnabled(name):
		j.missReason = run.ReasonCacheDisabled
	default:
		j.missReason = run.ReasonCacheMiss
	}
	return j
}

func (x *execution) apply(ctx context.Context, m message) {
	st := x.result.Steps[m.step]
	switch m.kind {
	case msgStarted:
		st.StartedAt = m.at
		x.transition(ctx, st, run.StepRunning, m.reason, nil)
		x.s.metrics.StepStarted(ctx)

	case msgCached:
		x.inFlight--
		st.Cached = true
		st.Outputs = m.refs
		st.FinishedAt = m.at
		x.transition(ctx, st, run.StepCached, run.ReasonCacheHit, nil)
		x.transition(ctx, st, run.StepSucceeded, "", nil)
		x.s.metrics.RecordStep(ctx, m.step, string(run.StepCached))

	case msgFinished:
		x.inFlight--
		st.FinishedAt = m.at
		if m.err != nil {
			x.transition(ctx, st, run.StepFailed, m.reason, m.err)
			x.s.metrics.StepFinished(ctx, m.step, string(run.StepFailed), st.Duration())
			x.skipDescendants(ctx, m.step)
			return
		}
		st.Outputs = m.refs
		x.transition(ctx, st, run.StepSucceeded, m.reason, nil)
		x.s.metrics.StepFinished(ctx, m.step, string(run.StepSucceeded), st.Duration())

	case msgAbandoned:
		x.inFlight--
		st.FinishedAt = m.at
		x.transition(ctx, st, run.StepSkipped, m.reason, nil)
		x.s.metrics.RecordStep(ctx, m.step, string(run.StepSkipped))
	}
}

func (x *execution) skipDescendants(ctx context.Context, failed string) {
	for _, name := range x.plan.Graph.Descendants(failed) {
		st := x.result.Steps[name]
		if st.State != run.StepPending || x.dispatched[name] {
			continue
		}
		st.FinishedAt = now()
		x.transition(ctx, st, run.StepSkipped, run.ReasonUpstreamFailed, nil)
		x.s.metrics.RecordStep(ctx, name, string(run.StepSkipped))
	}
}

func (x *execution) observeCancel(ctx context.Context) {
	if !x.result.Cancelled && ctx.Err() != nil {
		x.cancel(ctx)
	}
}

// cancel stops dispatch. Steps already handed to workers finish through
// their own messages.
func (x *execution) cancel(ctx context.Context) {
	x.result.Cancelled = true
	x.log.Warn("Run cancelled, skipping pending steps", logger.Fields(
		logger.FieldError, context.Cause(ctx).Error(),
		"in_flight", x.inFlight,
	))
	for _, name := range x.result.Order {
		st := x.result.Steps[name]
		if st.State != run.StepPending || x.dispatched[name] {
			continue
		}
		st.FinishedAt = now()
		x.transition(ctx, st, run.StepSkipped, run.ReasonCancelled, nil)
		x.s.metrics.RecordStep(ctx, name, string(run.StepSkipped))
	}
}

func (x *execution) transition(ctx context.Context, st *run.StepResult, to run.StepState, reason string, err error) {
	from := st.State
	if !run.CanTransition(from, to) {
		x.log.Error("Rejected step transition", logger.Fields(
			logger.FieldStep, st.Name,
			logger.FieldFrom, string(from),
			logger.FieldTo, string(to),
		))
		return
	}
	st.State = to
	if reason != "" {
		st.Reason = reason
	}
	if err != nil {
		st.SetErr(err)
	}
	x.publish(ctx, run.Event{
		Step:        st.Name,
		From:        string(from),
		To:          string(to),
		Reason:      reason,
		Fingerprint: string(st.Fingerprint),
		Error:       errString(err),
	})
}

func (x *execution) setStatus(ctx context.Context, to run.Status, reason string) {
	from := x.result.Status
	x.result.Status = to
	x.publish(ctx, run.Event{
		From:   string(from),
		To:     string(to),
		Reason: reason,
	})
}

// publish stamps e with the run identity and hands it to the sink. Sink
// failures are logged; events for a cancelled run are still delivered.
func (x *execution) publish(ctx context.Context, e run.Event) {
	e.RunID = x.plan.RunID
	e.RunName = x.plan.RunName
	e.Pipeline = x.result.Pipeline
	e.Timestamp = now()
	if err := x.sink.Publish(context.WithoutCancel(ctx), e); err != nil {
		x.log.Warn("Publishing state event failed", logger.Fields(
			logger.FieldStep, e.Step,
			logger.FieldTo, e.To,
			logger.FieldError, err.Error(),
		))
		return
	}
	x.s.metrics.RecordEvent(ctx, "run")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
