package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the validate tags of v. Failures wrap both ErrValidation
// and the validator's field errors.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		return fmt.Errorf("%w: %w", ErrValidation, fields)
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// FieldErrors maps each failing field of a Validate error to the rule it
// broke. It returns nil when err carries no field errors.
func FieldErrors(err error) map[string]string {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return nil
	}
	out := make(map[string]string, len(fields))
	for _, fe := range fields {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[fieldPath(fe)] = rule
	}
	return out
}

func fieldPath(fe validator.FieldError) string {
	// Namespace is "Struct.field[0].sub"; drop the struct name.
	_, path, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return path
}
