package backend

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/kbukum/stepflow/errors"
)

// ExecutionError reports a step that a backend could not complete.
type ExecutionError struct {
	Step string
	// ExitCode is the process or container exit code, -1 when none exists.
	ExitCode  int
	Cancelled bool
	Retryable bool
	// Output holds trailing diagnostic output such as stderr or logs.
	Output string
	Err    error
}

func (e *ExecutionError) Error() string {
	switch {
	case e.Cancelled:
		return fmt.Sprintf("backend: step %q cancelled", e.Step)
	case e.ExitCode > 0:
		return fmt.Sprintf("backend: step %q exited with code %d: %v", e.Step, e.ExitCode, e.Err)
	default:
		return fmt.Sprintf("backend: step %q failed: %v", e.Step, e.Err)
	}
}

// IsRetryable lets resilience.RetryableOnly decide on retries.
func (e *ExecutionError) IsRetryable() bool { return e.Retryable && !e.Cancelled }

// Unwrap exposes the error as an EXECUTION_FAILED or CANCELLED AppError.
func (e *ExecutionError) Unwrap() error {
	if e.Cancelled {
		return errors.Cancelled("Step "+e.Step).WithDetail("step", e.Step).WithCause(e.Err)
	}
	appErr := errors.ExecutionFailed(e.Step, e.Err)
	appErr.Retryable = e.Retryable
	if e.ExitCode >= 0 {
		appErr.WithDetail("exit_code", e.ExitCode)
	}
	return appErr
}

// Failed wraps err as a non-retryable execution failure of step. An error
// caused by ctx ending is reported as a cancellation. An ExecutionError of
// another step, as shared by a single-flight execution, is copied under
// step's name.
func Failed(ctx context.Context, step string, err error) *ExecutionError {
	var ee *ExecutionError
	if stderrors.As(err, &ee) {
		if ee.Step == step {
			return ee
		}
		cp := *ee
		cp.Step = step
		return &cp
	}
	return &ExecutionError{
		Step:      step,
		ExitCode:  -1,
		Cancelled: ctx.Err() != nil,
		Err:       err,
	}
}

// Transient wraps err as a retryable failure, for infrastructure errors
// that happened before the step's code ran.
func Transient(step string, err error) *ExecutionError {
	return &ExecutionError{Step: step, ExitCode: -1, Retryable: true, Err: err}
}

// IsCancelled reports whether err carries a cancelled ExecutionError.
func IsCancelled(err error) bool {
	var ee *ExecutionError
	return stderrors.As(err, &ee) && ee.Cancelled
}
