package api

import (
	"time"

	"github.com/kbukum/stepflow/orchestrator"
	"github.com/kbukum/stepflow/run"
)

// SubmitRequest is the body of POST /runs. Exactly one of Pipeline and
// Definition is set.
type SubmitRequest struct {
	// Pipeline names a pipeline file on the server's search path.
	Pipeline string `json:"pipeline" validate:"omitempty,max=128,identifier"`
	// Definition is an inline YAML pipeline.
	Definition string `json:"definition"`
	// RunName is a run-name template using {date} and {time}.
	RunName string `json:"run_name" validate:"omitempty,max=256"`
	// Caching overrides every step and pipeline cache setting.
	Caching *bool `json:"caching"`
}

// RunView is a run held by the orchestrator.
type RunView struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Pipeline    string                   `json:"pipeline"`
	Status      run.Status               `json:"status"`
	Done        bool                     `json:"done"`
	SubmittedAt time.Time                `json:"submitted_at"`
	Steps       map[string]run.StepState `json:"steps,omitempty"`
	Result      *run.Result              `json:"result,omitempty"`
}

func viewOf(r *orchestrator.Run, detailed bool) RunView {
	v := RunView{
		ID:          r.ID,
		Name:        r.Name,
		Pipeline:    r.Pipeline,
		Status:      r.Status(),
		SubmittedAt: r.SubmittedAt,
	}
	select {
	case <-r.Done():
		v.Done = true
	default:
	}
	if !detailed {
		return v
	}
	v.Steps = r.Steps()
	if res, ok := r.Result(); ok {
		v.Result = res
		v.Status = res.Status
	}
	return v
}
