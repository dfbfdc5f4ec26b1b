package dag

import (
	"github.com/kbukum/stepflow/validation"
)

// validateStep checks the declaration of a single step in isolation.
func validateStep(s StepSpec) error {
	if err := validation.Validate(s); err != nil {
		return err
	}

	v := validation.New()
	names := make([]string, 0, len(s.Inputs))
	for _, in := range s.Inputs {
		names = append(names, in.Name)
		if in.Ref == nil {
			continue
		}
		v.Check(in.Literal == nil, "inputs."+in.Name, "must bind either a reference or a literal, not both")
		v.Required("inputs."+in.Name+".step", in.Ref.Step).Identifier("inputs."+in.Name+".step", in.Ref.Step)
		v.Required("inputs."+in.Name+".output", in.Ref.Output).Identifier("inputs."+in.Name+".output", in.Ref.Output)
	}
	v.Unique("inputs", names)
	v.Unique("outputs", s.Outputs)
	return v.Validate()
}
