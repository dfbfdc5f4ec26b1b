package api

import (
	"slices"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/metadata"
	"github.com/kbukum/stepflow/orchestrator"
	"github.com/kbukum/stepflow/run"
)

// LineageView is the step graph of a run: each step with its state and the
// artifacts it consumed and produced, and the data edges between steps.
type LineageView struct {
	RunID  string     `json:"run_id"`
	Status string     `json:"status"`
	Steps  []StepNode `json:"steps"`
	Edges  []dag.Edge `json:"edges"`
}

// StepNode is one step of a LineageView.
type StepNode struct {
	Name       string                  `json:"name"`
	State      string                  `json:"state"`
	Reason     string                  `json:"reason,omitempty"`
	Cached     bool                    `json:"cached"`
	Upstream   []string                `json:"upstream,omitempty"`
	Downstream []string                `json:"downstream,omitempty"`
	Inputs     map[string]artifact.Ref `json:"inputs,omitempty"`
	Outputs    map[string]artifact.Ref `json:"outputs,omitempty"`
}

// liveLineage builds the view from the run's compiled graph. Artifacts are
// known once the run has finished.
func liveLineage(r *orchestrator.Run) LineageView {
	g := r.Graph()
	v := LineageView{RunID: r.ID, Status: string(r.Status()), Edges: g.Edges()}
	states := r.Steps()
	res, ok := r.Result()
	if ok && res != nil {
		v.Status = string(res.Status)
	}
	for _, name := range g.Order() {
		n := StepNode{
			Name:       name,
			State:      string(run.StepPending),
			Upstream:   g.Upstream(name),
			Downstream: g.Downstream(name),
		}
		if s, seen := states[name]; seen {
			n.State = string(s)
		}
		if ok && res != nil {
			if st, found := res.Step(name); found {
				n.State, n.Reason, n.Cached = string(st.State), st.Reason, st.Cached
				n.Inputs, n.Outputs = st.Inputs, st.Outputs
			}
		}
		v.Steps = append(v.Steps, n)
	}
	return v
}

// archivedLineage builds the view from a stored run. Neighbours come from
// the stored edges.
func archivedLineage(rec *metadata.RunRecord) LineageView {
	up := make(map[string][]string)
	down := make(map[string][]string)
	for _, e := range rec.Edges {
		if !slices.Contains(up[e.To], e.From) {
			up[e.To] = append(up[e.To], e.From)
		}
		if !slices.Contains(down[e.From], e.To) {
			down[e.From] = append(down[e.From], e.To)
		}
	}
	v := LineageView{RunID: rec.ID, Status: rec.Status, Edges: rec.Edges}
	if v.Edges == nil {
		v.Edges = []dag.Edge{}
	}
	for _, st := range rec.Steps {
		v.Steps = append(v.Steps, StepNode{
			Name:       st.Name,
			State:      st.State,
			Reason:     st.Reason,
			Cached:     st.Cached,
			Upstream:   up[st.Name],
			Downstream: down[st.Name],
			Inputs:     st.Inputs,
			Outputs:    st.Outputs,
		})
	}
	return v
}
