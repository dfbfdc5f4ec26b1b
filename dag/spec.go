package dag

import (
	"fmt"
	"strings"

	"github.com/kbukum/stepflow/artifact"
)

// CachingPolicy says whether a step's results may be reused.
type CachingPolicy int

const (
	// CacheInherit defers to the pipeline setting.
	CacheInherit CachingPolicy = iota
	CacheEnabled
	CacheDisabled
)

func (p CachingPolicy) String() string {
	switch p {
	case CacheEnabled:
		return "enabled"
	case CacheDisabled:
		return "disabled"
	default:
		return "inherit"
	}
}

// ParseCachingPolicy accepts "enabled", "disabled", "inherit" or "".
func ParseCachingPolicy(s string) (CachingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inherit":
		return CacheInherit, nil
	case "enabled", "true":
		return CacheEnabled, nil
	case "disabled", "false":
		return CacheDisabled, nil
	default:
		return CacheInherit, fmt.Errorf("dag: unknown caching policy %q", s)
	}
}

// Input binds one parameter of a step either to an upstream output (Ref) or
// to a literal configuration value.
type Input struct {
	Name    string        `json:"name" validate:"required,max=128,identifier"`
	Ref     *artifact.Ref `json:"ref,omitempty"`
	Literal any           `json:"literal,omitempty"`
}

// IsRef reports whether the input is bound to an upstream output.
func (in Input) IsRef() bool { return in.Ref != nil }

// StepSpec declares a unit of work.
type StepSpec struct {
	Name string `json:"name" validate:"required,max=128,identifier"`
	// CodeIdentity is a version token for the step's logic: a source hash,
	// an image digest or an explicit version string.
	CodeIdentity string        `json:"code_identity"`
	Inputs       []Input       `json:"inputs" validate:"dive"`
	Outputs      []string      `json:"outputs" validate:"dive,required,max=128,identifier"`
	Caching      CachingPolicy `json:"caching"`
	// CacheParameters are folded into the fingerprint without being passed
	// to the step.
	CacheParameters map[string]string `json:"cache_parameters,omitempty"`
	// Resources is passed through to the backend uninterpreted.
	Resources map[string]any `json:"resources,omitempty"`
}

// Refs returns the upstream references of the step in input order.
func (s StepSpec) Refs() []artifact.Ref {
	var refs []artifact.Ref
	for _, in := range s.Inputs {
		if in.Ref != nil {
			refs = append(refs, *in.Ref)
		}
	}
	return refs
}

// HasOutput reports whether the step declares the named output.
func (s StepSpec) HasOutput(name string) bool {
	for _, o := range s.Outputs {
		if o == name {
			return true
		}
	}
	return false
}

// Output returns a pending reference to one of the step's outputs, for
// wiring into downstream builders.
func (s StepSpec) Output(name string) artifact.Ref {
	return artifact.Pending(s.Name, name)
}

// StepBuilder assembles a StepSpec.
type StepBuilder struct {
	spec StepSpec
}

// NewStep starts a builder for the named step.
func NewStep(name string) *StepBuilder {
	return &StepBuilder{spec: StepSpec{Name: name}}
}

// Code sets the code identity.
func (b *StepBuilder) Code(identity string) *StepBuilder {
	b.spec.CodeIdentity = identity
	return b
}

// From binds input name to output of an upstream step.
func (b *StepBuilder) From(name, step, output string) *StepBuilder {
	ref := artifact.Pending(step, output)
	b.spec.Inputs = append(b.spec.Inputs, Input{Name: name, Ref: &ref})
	return b
}

// FromRef binds input name to an existing reference.
func (b *StepBuilder) FromRef(name string, ref artifact.Ref) *StepBuilder {
	b.spec.Inputs = append(b.spec.Inputs, Input{Name: name, Ref: &ref})
	return b
}

// Literal binds input name to a configuration value.
func (b *StepBuilder) Literal(name string, value any) *StepBuilder {
	b.spec.Inputs = append(b.spec.Inputs, Input{Name: name, Literal: value})
	return b
}

// Outputs appends declared output names.
func (b *StepBuilder) Outputs(names ...string) *StepBuilder {
	b.spec.Outputs = append(b.spec.Outputs, names...)
	return b
}

// Caching sets the caching policy.
func (b *StepBuilder) Caching(p CachingPolicy) *StepBuilder {
	b.spec.Caching = p
	return b
}

// CacheParam adds a cache parameter.
func (b *StepBuilder) CacheParam(key, value string) *StepBuilder {
	if b.spec.CacheParameters == nil {
		b.spec.CacheParameters = make(map[string]string)
	}
	b.spec.CacheParameters[key] = value
	return b
}

// Resource sets one resource policy entry.
func (b *StepBuilder) Resource(key string, value any) *StepBuilder {
	if b.spec.Resources == nil {
		b.spec.Resources = make(map[string]any)
	}
	b.spec.Resources[key] = value
	return b
}

// Build returns the assembled spec. The builder may be reused; later calls
// do not affect returned specs.
func (b *StepBuilder) Build() StepSpec {
	s := b.spec
	s.Inputs = append([]Input(nil), b.spec.Inputs...)
	s.Outputs = append([]string(nil), b.spec.Outputs...)
	if b.spec.CacheParameters != nil {
		s.CacheParameters = make(map[string]string, len(b.spec.CacheParameters))
		for k, v := range b.spec.CacheParameters {
			s.CacheParameters[k] = v
		}
	}
	if b.spec.Resources != nil {
		s.Resources = make(map[string]any, len(b.spec.Resources))
		for k, v := range b.spec.Resources {
			s.Resources[k] = v
		}
	}
	return s
}
