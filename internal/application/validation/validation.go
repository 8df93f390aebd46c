// Package validation checks request schemas at the application boundary and
// turns validator failures into shared.ErrValidation with per-field details.
package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/meterly/backend/internal/domain/shared"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Engine returns the shared validator. Field names in errors are JSON tag names.
func Engine() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(JSONTagName)
		// Whitespace-only strings fail notblank
		_ = validate.RegisterValidation("notblank", validators.NotBlank)
	})
	return validate
}

// JSONTagName names a struct field by its json tag
func JSONTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

// Struct validates v and returns a ValidationError listing every failing field
func Struct(v any) error {
	err := Engine().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.ErrValidation.WithCause(err)
	}
	return shared.NewValidationError(Fields(verrs))
}

// Fields converts validator errors to field details
func Fields(verrs validator.ValidationErrors) []shared.FieldError {
	fields := make([]shared.FieldError, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, shared.FieldError{
			Field:   e.Field(),
			Rule:    e.Tag(),
			Message: Message(e),
		})
	}
	return fields
}

// Message returns a human-readable message for one failed rule
func Message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "notblank":
		return "Must not be blank"
	case "email":
		return "Invalid email format"
	case "min":
		if e.Kind() == reflect.String {
			return "Must be at least " + e.Param() + " characters"
		}
		return "Must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return "Must be at most " + e.Param() + " characters"
		}
		return "Must be at most " + e.Param()
	case "oneof":
		return "Must be one of: " + e.Param()
	case "e164":
		return "Must be an E.164 phone number"
	case "iso3166_1_alpha2":
		return "Must be a two-letter country code"
	case "uuid":
		return "Invalid UUID format"
	default:
		return "Invalid value"
	}
}
