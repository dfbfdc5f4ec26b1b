package run

import (
	"time"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/fingerprint"
)

// StepResult is the final record of one step.
type StepResult struct {
	Name        string                  `json:"name"`
	State       StepState               `json:"state"`
	Reason      string                  `json:"reason,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Cached      bool                    `json:"cached"`
	// Inputs are the upstream artifacts the step was dispatched with.
	Inputs      map[string]artifact.Ref `json:"inputs,omitempty"`
	Outputs     map[string]artifact.Ref `json:"outputs,omitempty"`
	StartedAt   time.Time               `json:"started_at,omitempty"`
	FinishedAt  time.Time               `json:"finished_at,omitempty"`

	err error
}

// Err returns the error that failed the step, if any.
func (s *StepResult) Err() error { return s.err }

// SetErr records the failure cause.
func (s *StepResult) SetErr(err error) {
	s.err = err
	if err != nil {
		s.Error = err.Error()
	}
}

// Duration is the time spent running, zero for cached or skipped steps.
func (s *StepResult) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Result is the outcome of a run. Every step of the graph has an entry.
type Result struct {
	RunID      string                 `json:"run_id"`
	Name       string                 `json:"name"`
	Pipeline   string                 `json:"pipeline"`
	Status     Status                 `json:"status"`
	Cancelled  bool                   `json:"cancelled"`
	Order      []string               `json:"order"`
	Edges      []dag.Edge             `json:"edges"`
	Steps      map[string]*StepResult `json:"steps"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// Step returns the result of the named step.
func (r *Result) Step(name string) (*StepResult, bool) {
	s, ok := r.Steps[name]
	return s, ok
}

// Counts tallies steps by final state. Cached hits count as succeeded and
// are also reported under StepCached.
func (r *Result) Counts() map[StepState]int {
	counts := make(map[StepState]int)
	for _, s := range r.Steps {
		counts[s.State]++
		if s.Cached {
			counts[StepCached]++
		}
	}
	return counts
}

// InState lists steps in the given state, in topological order.
func (r *Result) InState(state StepState) []string {
	var out []string
	for _, name := range r.Order {
		if s := r.Steps[name]; s != nil && s.State == state {
			out = append(out, name)
		}
	}
	return out
}

// Outputs returns the concrete output refs of a succeeded step.
func (r *Result) Outputs(step string) map[string]artifact.Ref {
	if s, ok := r.Steps[step]; ok {
		return s.Outputs
	}
	return nil
}
