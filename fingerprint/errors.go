package fingerprint

import "fmt"

// Error reports that a step's inputs could not be encoded. The step is not
// failed; it is forced to miss the cache.
type Error struct {
	Step  string
	Input string
	Cause error
}

func (e *Error) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("fingerprint: step %q input %q: %v", e.Step, e.Input, e.Cause)
	}
	return fmt.Sprintf("fingerprint: step %q: %v", e.Step, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }
