// Package validation checks request structs against their `validate` tags
// and reports failures as apperr.ErrInvalidInput.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"gatekeeper/internal/apperr"
)

const (
	MinPasswordBytes = 8
	// MaxPasswordBytes is the longest password bcrypt accepts.
	MaxPasswordBytes = 72
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// bcrypt counts bytes, the builtin max counts runes.
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		n := len(fl.Field().String())
		return n >= MinPasswordBytes && n <= MaxPasswordBytes
	})
	return v
}

// Struct validates v and joins every field failure into one
// ErrInvalidInput error.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Internal(fmt.Errorf("validate %T: %w", v, err))
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", apperr.ErrInvalidInput, strings.Join(msgs, "; "))
}

// Password checks a password outside of a request struct.
func Password(pw string) error {
	return Var(pw, "required,password", "password")
}

// Var validates a single value under the given field name.
func Var(value any, tag, field string) error {
	err := validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Internal(fmt.Errorf("validate %s: %w", field, err))
	}
	return fmt.Errorf("%w: %s", apperr.ErrInvalidInput, describeAs(fieldErrs[0], field))
}

func describe(fe validator.FieldError) string {
	return describeAs(fe, fe.Field())
}

func describeAs(fe validator.FieldError, field string) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "gt":
		return field + " must be positive"
	case "email":
		return field + " must be a valid email address"
	case "password":
		return fmt.Sprintf("%s must be %d-%d bytes", field, MinPasswordBytes, MaxPasswordBytes)
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
