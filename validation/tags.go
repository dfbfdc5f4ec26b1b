package validation

import (
	stderrors "errors"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/stepflow/errors"
)

// IdentifierPattern is the accepted shape of step, output and input names.
// Dots are excluded because references are written "step.output".
const IdentifierPattern = `^[A-Za-z0-9_][A-Za-z0-9_\-]*$`

const identifierMessage = "must contain only letters, digits, '_' or '-'"

var identifierRe = regexp.MustCompile(IdentifierPattern)

var tagMessages = map[string]func(param string) string{
	"required":   func(string) string { return "is required" },
	"min":        func(p string) string { return "must be at least " + p + " characters" },
	"max":        func(p string) string { return "must be at most " + p + " characters" },
	"oneof":      func(p string) string { return "must be one of: " + p },
	"uuid":       func(string) string { return "must be a valid UUID" },
	"identifier": func(string) string { return identifierMessage },
}

var structs = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return snake(f.Name)
		}
		return name
	})
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierRe.MatchString(fl.Field().String())
	})
	return v
})

// Validate checks s against its validate tags and returns a validation
// AppError naming each failing field by its JSON path, or nil.
func Validate(s any) error {
	err := structs().Struct(s)
	if err == nil {
		return nil
	}
	var failures validator.ValidationErrors
	if !stderrors.As(err, &failures) {
		return errors.Validation("validation failed").WithCause(err)
	}
	fields := make([]FieldError, len(failures))
	for i, f := range failures {
		fields[i] = FieldError{Field: jsonPath(f.Namespace()), Message: message(f)}
	}
	return fieldsError(fields)
}

// jsonPath drops the root struct name: "StepSpec.outputs[0]" is "outputs[0]".
func jsonPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func message(f validator.FieldError) string {
	if m, ok := tagMessages[f.Tag()]; ok {
		return m(f.Param())
	}
	return "is invalid"
}

// snake turns a Go field name into snake_case: "RunName" is "run_name".
func snake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
