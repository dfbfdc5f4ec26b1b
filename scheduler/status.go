package scheduler

import (
	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/run"
)

// decideStatus picks the terminal run status. A run without failures is
// completed. Otherwise it is partially failed when some succeeded step is
// not an ancestor of any failure, and failed when every success only fed
// work that failed. Steps skipped by cancellation count as failures.
func decideStatus(g *dag.Graph, res *run.Result) run.Status {
	var failed []string
	for _, name := range res.Order {
		st := res.Steps[name]
		if st.State == run.StepFailed || (st.State == run.StepSkipped && st.Reason == run.ReasonCancelled) {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return run.StatusCompleted
	}
	feedsFailure := g.UpstreamOf(failed...)
	for _, name := range res.Order {
		if res.Steps[name].State == run.StepSucceeded && !feedsFailure[name] {
			return run.StatusPartiallyFailed
		}
	}
	return run.StatusFailed
}
