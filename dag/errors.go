package dag

import (
	"fmt"
	"strings"

	"github.com/kbukum/stepflow/errors"
)

// ErrorKind classifies a compile failure.
type ErrorKind string

const (
	UnknownReference  ErrorKind = "unknown_reference"
	CycleDetected     ErrorKind = "cycle_detected"
	DuplicateStepName ErrorKind = "duplicate_step_name"
	InvalidStep       ErrorKind = "invalid_step"
)

var kindCodes = map[ErrorKind]errors.ErrorCode{
	UnknownReference:  errors.ErrCodeUnknownReference,
	CycleDetected:     errors.ErrCodeCycleDetected,
	DuplicateStepName: errors.ErrCodeDuplicateStepName,
	InvalidStep:       errors.ErrCodeInvalidStep,
}

// CompileError reports why a set of steps cannot form a pipeline graph.
// No graph is returned alongside it.
type CompileError struct {
	Kind ErrorKind
	// Step is the offending step: the consumer for UnknownReference, the
	// repeated name for DuplicateStepName.
	Step string
	// Ref is the unresolved reference for UnknownReference.
	Ref string
	// Cycle lists the steps on the cycle, first step repeated at the end.
	Cycle []string
	Cause error
}

func (e *CompileError) Error() string {
	switch e.Kind {
	case UnknownReference:
		return fmt.Sprintf("dag: step %q references unknown output %q", e.Step, e.Ref)
	case CycleDetected:
		return fmt.Sprintf("dag: cycle detected: %s", strings.Join(e.Cycle, " -> "))
	case DuplicateStepName:
		return fmt.Sprintf("dag: duplicate step name %q", e.Step)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("dag: invalid step %q: %v", e.Step, e.Cause)
		}
		return fmt.Sprintf("dag: invalid step %q", e.Step)
	}
}

// Unwrap exposes the error as an AppError so the API can render it.
func (e *CompileError) Unwrap() error {
	appErr := errors.Of(kindCodes[e.Kind], e.Error()).WithDetail("step", e.Step)
	if e.Ref != "" {
		appErr.WithDetail("ref", e.Ref)
	}
	if len(e.Cycle) > 0 {
		appErr.WithDetail("cycle", e.Cycle)
	}
	if src, ok := errors.AsAppError(e.Cause); ok && src.Details != nil {
		appErr.WithDetail("fields", src.Details["fields"])
	}
	return appErr.WithCause(e.Cause)
}
