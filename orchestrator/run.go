package orchestrator

import (
	"context"
	"time"

	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/run"
)

// Run is a submitted pipeline run.
type Run struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Pipeline    string    `json:"pipeline"`
	SubmittedAt time.Time `json:"submitted_at"`

	graph   *dag.Graph
	cancel  context.CancelFunc
	tracker *run.Tracker
	done    chan struct{}
	result  *run.Result
	err     error
}

func (r *Run) finish(res *run.Result, err error) {
	r.result, r.err = res, err
	close(r.done)
}

// Done is closed when the run has ended.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends or ctx is done.
func (r *Run) Wait(ctx context.Context) (*run.Result, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome once the run has ended.
func (r *Run) Result() (*run.Result, bool) {
	select {
	case <-r.done:
		return r.result, r.err == nil
	default:
		return nil, false
	}
}

// Cancel stops the run. In-flight steps end failed with reason cancelled.
func (r *Run) Cancel() { r.cancel() }

// Status returns the latest run status, pending until the scheduler reports.
func (r *Run) Status() run.Status {
	if s, ok := r.tracker.Status(r.ID); ok {
		return s
	}
	return run.StatusPending
}

// Steps returns the latest state of every step that has reported.
func (r *Run) Steps() map[string]run.StepState { return r.tracker.Steps(r.ID) }

// Graph returns the compiled pipeline the run executes.
func (r *Run) Graph() *dag.Graph { return r.graph }

// Events returns the transitions seen so far, oldest first.
func (r *Run) Events() []run.Event { return r.tracker.Events(r.ID) }
