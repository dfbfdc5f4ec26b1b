package artifact

import (
	"fmt"
	"strings"
)

// Location is an opaque token naming where an artifact lives in the store.
type Location string

// Ref identifies an output of a step. Values are immutable; Resolve
// returns a new Ref.
type Ref struct {
	Step        string   `json:"step" yaml:"step"`
	Output      string   `json:"output" yaml:"output"`
	Fingerprint string   `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Location    Location `json:"location,omitempty" yaml:"location,omitempty"`
}

// Pending returns an unresolved reference to step's output.
func Pending(step, output string) Ref {
	return Ref{Step: step, Output: output}
}

// ParseRef parses "step.output". The output name is everything after the
// first dot.
func ParseRef(s string) (Ref, error) {
	step, output, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || step == "" || output == "" {
		return Ref{}, fmt.Errorf("artifact: invalid reference %q, expected step.output", s)
	}
	return Pending(step, output), nil
}

// Concrete reports whether the ref is bound to a stored artifact.
func (r Ref) Concrete() bool {
	return r.Location != ""
}

// Resolve binds the ref to the artifact produced under fingerprint at loc.
func (r Ref) Resolve(fingerprint string, loc Location) Ref {
	r.Fingerprint = fingerprint
	r.Location = loc
	return r
}

// Key returns "step.output".
func (r Ref) Key() string {
	return r.Step + "." + r.Output
}

func (r Ref) String() string {
	if r.Concrete() {
		return fmt.Sprintf("%s@%s", r.Key(), r.Location)
	}
	return r.Key()
}
