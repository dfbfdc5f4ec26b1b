package run

// Status is the state of a whole run.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusPartiallyFailed Status = "partially_failed"
)

// Terminal reports whether the run has finished.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartiallyFailed:
		return true
	}
	return false
}

// StepState is the state of one step within a run.
type StepState string

const (
	StepPending   StepState = "pending"
	StepCached    StepState = "cached"
	StepRunning   StepState = "running"
	StepSucceeded StepState = "succeeded"
	StepFailed    StepState = "failed"
	StepSkipped   StepState = "skipped"
)

// Terminal reports whether no further transition can follow.
func (s StepState) Terminal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepSkipped:
		return true
	}
	return false
}

// Transition reasons.
const (
	ReasonCacheHit       = "cache_hit"
	ReasonCacheMiss      = "cache_miss"
	ReasonForcedMiss     = "forced_miss"
	ReasonCacheDisabled  = "cache_disabled"
	ReasonShared         = "shared_execution"
	ReasonUpstreamFailed = "upstream_failed"
	ReasonCancelled      = "cancelled"
	ReasonExecution      = "execution_error"
	ReasonMissingOutput  = "missing_output"
)

var stepTransitions = map[StepState][]StepState{
	StepPending: {StepCached, StepRunning, StepSkipped},
	StepCached:  {StepSucceeded},
	StepRunning: {StepSucceeded, StepFailed},
}

// CanTransition reports whether a step may move from one state to another.
func CanTransition(from, to StepState) bool {
	for _, s := range stepTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
