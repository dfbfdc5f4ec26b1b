package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/backend"
	"github.com/kbukum/stepflow/cache"
	"github.com/kbukum/stepflow/fingerprint"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/observability"
	"github.com/kbukum/stepflow/run"
)

// ErrMissingOutput marks a backend that returned without producing every
// declared output.
var ErrMissingOutput = stderrors.New("declared outputs not produced")

// sharedRetries bounds how often a step re-joins a flight whose leader was
// cancelled by its own run.
const sharedRetries = 2

func (x *execution) send(m message) { x.messages <- m }

// work runs on its own goroutine and reports exactly one terminal message.
func (x *execution) work(ctx context.Context, j job) {
	name := j.step.Name
	if j.cacheable {
		if refs, ok := x.lookup(ctx, j); ok {
			x.send(message{step: name, kind: msgCached, refs: refs, at: now()})
			return
		}
	}
	if ctx.Err() != nil {
		x.send(message{step: name, kind: msgAbandoned, reason: run.ReasonCancelled, at: now()})
		return
	}
	x.send(message{step: name, kind: msgStarted, reason: j.missReason, at: now()})

	var (
		refs map[string]artifact.Ref
		led  bool
		err  error
	)
	for attempt := 0; ; attempt++ {
		refs, led, err = x.s.flight.Do(ctx, j.fp, func() (map[string]artifact.Ref, error) {
			return x.invoke(ctx, j)
		})
		if err == nil || led || ctx.Err() != nil || !leaderCancelled(err) || attempt >= sharedRetries {
			break
		}
	}

	m := message{step: name, kind: msgFinished, at: now()}
	switch {
	case err != nil:
		m.err = backend.Failed(ctx, name, err)
		m.reason = failureReason(ctx, m.err)
	case !led:
		m.refs = rebind(refs, name)
		m.reason = run.ReasonShared
	default:
		m.refs = refs
	}
	x.send(m)
}

func (x *execution) lookup(ctx context.Context, j job) (map[string]artifact.Ref, bool) {
	name := j.step.Name
	ctx, span := observability.StartSpan(ctx, observability.SpanCacheLookup,
		observability.Step.String(name),
		observability.Fingerprint.String(string(j.fp)),
	)
	defer span.End()

	refs, hit, err := x.s.index.Lookup(ctx, j.fp)
	if err != nil {
		hit = false
	}
	if hit {
		for _, out := range j.step.Outputs {
			if _, ok := refs[out]; !ok {
				x.log.Warn("Cache entry lacks a declared output, treating as miss", logger.Fields(
					logger.FieldStep, name,
					logger.FieldFingerprint, j.fp.Short(),
					"output", out,
				))
				hit = false
				break
			}
		}
	}
	observability.Annotate(ctx, observability.CacheHit.Bool(hit))
	if !hit {
		return nil, false
	}
	return rebind(refs, name), true
}

// invoke allocates output locations, runs the backend and records the
// outputs in the cache index. Locations of a failed execution are discarded.
func (x *execution) invoke(ctx context.Context, j job) (map[string]artifact.Ref, error) {
	name := j.step.Name
	ctx, span := observability.StartSpan(ctx, observability.SpanStep,
		observability.RunID.String(x.plan.RunID),
		observability.Step.String(name),
		observability.Fingerprint.String(string(j.fp)),
	)
	defer span.End()

	store := x.plan.Store
	inv := backend.Invocation{
		RunID:        x.plan.RunID,
		Step:         name,
		CodeIdentity: j.step.CodeIdentity,
		Fingerprint:  j.fp,
		Inputs:       j.inputs,
		Literals:     j.literals,
		Outputs:      make(map[string]artifact.Location, len(j.step.Outputs)),
		Resources:    j.step.Resources,
		Store:        store,
	}
	allocated := make([]artifact.Location, 0, len(j.step.Outputs))
	for _, out := range j.step.Outputs {
		loc := store.Allocate(x.plan.RunID, name, out)
		inv.Outputs[out] = loc
		allocated = append(allocated, loc)
	}

	var produced map[string]artifact.Location
	err := store.Prepare(allocated...)
	if err == nil {
		produced, err = x.backend.Run(ctx, inv)
	}
	if err == nil {
		if missing := backend.MissingOutputs(inv, produced); len(missing) > 0 {
			err = &backend.ExecutionError{
				Step:     name,
				ExitCode: -1,
				Err:      fmt.Errorf("%w: %s", ErrMissingOutput, strings.Join(missing, ", ")),
			}
		}
	}
	if err != nil {
		err = backend.Failed(ctx, name, err)
		observability.Fail(ctx, err)
		x.discard(ctx, name, allocated, produced)
		return nil, err
	}

	if x.log.DebugEnabled() {
		x.logOutputs(ctx, name, produced)
	}
	refs := make(map[string]artifact.Ref, len(j.step.Outputs))
	for _, out := range j.step.Outputs {
		refs[out] = artifact.Pending(name, out).Resolve(string(fingerprint.Output(j.fp, out)), produced[out])
	}
	if j.cacheable {
		_ = x.s.index.Record(context.WithoutCancel(ctx), j.fp, cache.Entry{
			Fingerprint: j.fp,
			Step:        name,
			RunID:       x.plan.RunID,
			Outputs:     refs,
			CreatedAt:   now(),
		})
	}
	return refs, nil
}

func (x *execution) logOutputs(ctx context.Context, step string, produced map[string]artifact.Location) {
	fields := logger.Fields(logger.FieldStep, step)
	for out, loc := range produced {
		if n, err := x.plan.Store.Size(ctx, loc); err == nil {
			fields["output."+out] = humanize.IBytes(uint64(n))
		}
	}
	x.log.Debug("Step outputs stored", fields)
}

func (x *execution) discard(ctx context.Context, step string, allocated []artifact.Location, produced map[string]artifact.Location) {
	locs := allocated
	for _, loc := range produced {
		if !containsLocation(allocated, loc) {
			locs = append(locs, loc)
		}
	}
	if err := x.plan.Store.Discard(context.WithoutCancel(ctx), locs...); err != nil {
		x.log.Warn("Discarding outputs of failed step", logger.Fields(
			logger.FieldStep, step,
			logger.FieldError, err.Error(),
		))
	}
}

func containsLocation(locs []artifact.Location, loc artifact.Location) bool {
	for _, l := range locs {
		if l == loc {
			return true
		}
	}
	return false
}

// rebind attributes refs produced under another step name to step.
func rebind(refs map[string]artifact.Ref, step string) map[string]artifact.Ref {
	out := make(map[string]artifact.Ref, len(refs))
	for output, ref := range refs {
		ref.Step = step
		ref.Output = output
		out[output] = ref
	}
	return out
}

// leaderCancelled reports a shared execution that ended because the run
// that led it was cancelled.
func leaderCancelled(err error) bool {
	return backend.IsCancelled(err) || stderrors.Is(err, cache.ErrAbandoned)
}

func failureReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil || backend.IsCancelled(err):
		return run.ReasonCancelled
	case stderrors.Is(err, ErrMissingOutput):
		return run.ReasonMissingOutput
	default:
		return run.ReasonExecution
	}
}
