package backend

import (
	"context"
	"sort"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/fingerprint"
)

// Kind names a backend implementation in configuration.
type Kind string

const (
	KindInProc     Kind = "inproc"
	KindProcess    Kind = "process"
	KindDocker     Kind = "docker"
	KindKubernetes Kind = "kubernetes"
)

// Invocation is everything a backend needs to run one step.
type Invocation struct {
	RunID        string
	Step         string
	CodeIdentity string
	Fingerprint  fingerprint.Fingerprint
	// Inputs holds concrete upstream refs by input name.
	Inputs map[string]artifact.Ref
	// Literals holds literal inputs by input name.
	Literals map[string]any
	// Outputs holds the allocated location for every declared output.
	Outputs   map[string]artifact.Location
	Resources map[string]any
	Store     *artifact.Store
}

// OutputNames returns the declared output names in sorted order.
func (inv Invocation) OutputNames() []string {
	names := make([]string, 0, len(inv.Outputs))
	for name := range inv.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Backend runs step code. Run must be safe for concurrent use and must
// return promptly once ctx is done.
type Backend interface {
	Run(ctx context.Context, inv Invocation) (map[string]artifact.Location, error)
}

// Func adapts a function to Backend.
type Func func(ctx context.Context, inv Invocation) (map[string]artifact.Location, error)

func (f Func) Run(ctx context.Context, inv Invocation) (map[string]artifact.Location, error) {
	return f(ctx, inv)
}

// MissingOutputs lists the declared outputs absent from produced, sorted.
func MissingOutputs(inv Invocation, produced map[string]artifact.Location) []string {
	var missing []string
	for _, name := range inv.OutputNames() {
		if loc, ok := produced[name]; !ok || loc == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Collect returns the allocated outputs that exist in the store after a
// backend wrote them out of band.
func Collect(ctx context.Context, inv Invocation) (map[string]artifact.Location, error) {
	out := make(map[string]artifact.Location, len(inv.Outputs))
	for _, name := range inv.OutputNames() {
		loc := inv.Outputs[name]
		ok, err := inv.Store.Exists(ctx, loc)
		if err != nil {
			return nil, err
		}
		if ok {
			out[name] = loc
		}
	}
	return out, nil
}
