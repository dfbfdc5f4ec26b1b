package dag

import (
	"fmt"
	"strings"

	"github.com/kbukum/stepflow/artifact"
)

// Pipeline is a composable, YAML-defined set of steps.
type Pipeline struct {
	// Name is the pipeline identifier.
	Name string `yaml:"name"`
	// Includes lists sub-pipeline names whose steps are merged in first.
	Includes []string `yaml:"includes,omitempty"`
	// Caching is the pipeline default: "enabled" (default) or "disabled".
	Caching string `yaml:"caching,omitempty"`
	// Steps defines the pipeline's own steps in declaration order.
	Steps []StepDef `yaml:"steps"`

	// dir is the directory the file was loaded from; source globs are
	// relative to it.
	dir string
}

// StepDef is the file form of a StepSpec.
type StepDef struct {
	Name string `yaml:"name"`
	// Code is an explicit code identity.
	Code string `yaml:"code,omitempty"`
	// Sources are file globs hashed into the code identity.
	Sources         []string          `yaml:"sources,omitempty"`
	Inputs          []InputDef        `yaml:"inputs,omitempty"`
	Outputs         []string          `yaml:"outputs,omitempty"`
	Caching         string            `yaml:"caching,omitempty"`
	CacheParameters map[string]string `yaml:"cache_parameters,omitempty"`
	Resources       map[string]any    `yaml:"resources,omitempty"`
}

// InputDef binds one input either to "step.output" (From) or to Value.
type InputDef struct {
	Name  string `yaml:"name"`
	From  string `yaml:"from,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// Dir returns the directory the pipeline was loaded from, if any.
func (p *Pipeline) Dir() string { return p.dir }

// CacheDefault reports the pipeline-level cache setting.
func (p *Pipeline) CacheDefault() (bool, error) {
	policy, err := ParseCachingPolicy(p.Caching)
	if err != nil {
		return false, err
	}
	return policy != CacheDisabled, nil
}

// StepSpecs converts the pipeline's own steps, excluding includes.
func (p *Pipeline) StepSpecs() ([]StepSpec, error) {
	specs := make([]StepSpec, 0, len(p.Steps))
	for _, def := range p.Steps {
		spec, err := def.spec(p.dir)
		if err != nil {
			return nil, fmt.Errorf("dag: pipeline %q: %w", p.Name, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (d StepDef) spec(dir string) (StepSpec, error) {
	b := NewStep(d.Name).Outputs(d.Outputs...)

	identity := strings.TrimSpace(d.Code)
	if len(d.Sources) > 0 {
		h, err := HashSources(dir, d.Sources...)
		if err != nil {
			return StepSpec{}, fmt.Errorf("step %q: %w", d.Name, err)
		}
		if identity != "" {
			identity += "+" + h
		} else {
			identity = h
		}
	}
	b.Code(identity)

	policy, err := ParseCachingPolicy(d.Caching)
	if err != nil {
		return StepSpec{}, fmt.Errorf("step %q: %w", d.Name, err)
	}
	b.Caching(policy)

	for _, in := range d.Inputs {
		if in.From == "" {
			b.Literal(in.Name, in.Value)
			continue
		}
		if in.Value != nil {
			return StepSpec{}, fmt.Errorf("step %q input %q: from and value are exclusive", d.Name, in.Name)
		}
		ref, err := artifact.ParseRef(in.From)
		if err != nil {
			return StepSpec{}, fmt.Errorf("step %q input %q: %w", d.Name, in.Name, err)
		}
		b.FromRef(in.Name, ref)
	}
	for k, v := range d.CacheParameters {
		b.CacheParam(k, v)
	}
	for k, v := range d.Resources {
		b.Resource(k, v)
	}
	return b.Build(), nil
}
