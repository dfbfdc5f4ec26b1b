package validation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kbukum/stepflow/errors"
)

// FieldError is one failed check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator accumulates failed checks. Its methods chain and never stop
// early, so one Validate call reports every problem.
type Validator struct {
	failed []FieldError
}

func New() *Validator { return &Validator{} }

// Check records message against field unless ok holds.
func (v *Validator) Check(ok bool, field, message string) *Validator {
	if !ok {
		v.failed = append(v.failed, FieldError{Field: field, Message: message})
	}
	return v
}

// Required fails on a blank value.
func (v *Validator) Required(field, value string) *Validator {
	return v.Check(strings.TrimSpace(value) != "", field, "is required")
}

// Identifier fails on a non-empty value that is not a valid step, input
// or output name.
func (v *Validator) Identifier(field, value string) *Validator {
	return v.Check(value == "" || identifierRe.MatchString(value), field, identifierMessage)
}

// Unique reports each repeated value once.
func (v *Validator) Unique(field string, values []string) *Validator {
	count := make(map[string]int, len(values))
	for _, val := range values {
		count[val]++
		if count[val] == 2 {
			v.Check(false, field, fmt.Sprintf("duplicate value %q", val))
		}
	}
	return v
}

// Failed returns the recorded failures.
func (v *Validator) Failed() []FieldError { return v.failed }

// Validate returns a validation AppError listing every failure, or nil.
func (v *Validator) Validate() error { return fieldsError(v.failed) }

func fieldsError(fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return errors.Validation(strings.Join(parts, "; ")).WithDetail("fields", fields)
}

// ValidateUUID parses value as a UUID named field.
func ValidateUUID(field, value string) (uuid.UUID, error) {
	if strings.TrimSpace(value) == "" {
		return uuid.Nil, errors.MissingField(field)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, errors.InvalidFormat(field, "UUID")
	}
	return id, nil
}
