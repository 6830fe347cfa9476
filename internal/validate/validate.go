// Package validate wires go-playground/validator into Echo so request DTOs
// are schema-checked at the boundary before any handler logic runs.
package validate

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EchoValidator satisfies echo.Validator. Handlers call c.Validate(&req)
// after binding and translate the returned FieldErrors into a 400 payload.
type EchoValidator struct{ v *validator.Validate }

func New() *EchoValidator {
	return &EchoValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// FieldErrors maps JSON-ish field names to a short failure description.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for k, v := range fe {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, "; ")
}

// Validate runs struct validation and converts validator errors into
// FieldErrors so handlers can return field-level detail.
func (ev *EchoValidator) Validate(i interface{}) error {
	err := ev.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := make(FieldErrors, len(verrs))
	for _, f := range verrs {
		name := strings.ToLower(f.Field()[:1]) + f.Field()[1:]
		fe[name] = describe(f)
	}
	return fe
}

func describe(f validator.FieldError) string {
	switch f.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + f.Param() + " characters"
	case "max":
		return "must be at most " + f.Param() + " characters"
	case "eq":
		return "must be " + f.Param()
	default:
		return "failed " + f.Tag() + " validation"
	}
}
