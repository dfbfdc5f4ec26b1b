// Package validation checks step declarations and API requests.
//
// Struct tags use go-playground/validator with one stepflow-specific tag,
// "identifier", for step, output and input names:
//
//	type Step struct {
//	    Name string `validate:"required,max=128,identifier"`
//	}
//	err := validation.Validate(step)
//
// Checks that tags cannot express are collected with a Validator:
//
//	v := validation.New()
//	v.Unique("outputs", names)
//	err := v.Validate()
package validation
