package achievement

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Xeideverme/galpao/internal/domain/shared"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}

// validateStruct runs the struct tags and maps the first failing tag onto the
// domain error taxonomy. The message lists every failing field.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.WrapError("achievement", "Validate", shared.ErrValidation, "invalid definition", err)
	}

	kind := shared.ErrValidation
	switch verrs[0].Tag() {
	case "min", "max", "gte", "lte":
		kind = shared.ErrValueOutOfRange
	case "required":
		kind = shared.ErrEmptyValue
	}
	return shared.NewDomainError("achievement", "Validate", kind, FormatValidationErrors(verrs))
}

// FormatValidationErrors renders field errors for administrators.
func FormatValidationErrors(verrs validator.ValidationErrors) string {
	var b strings.Builder
	for i, e := range verrs {
		if i > 0 {
			b.WriteString("; ")
		}
		field := e.Field()
		switch e.Tag() {
		case "required":
			b.WriteString(field + " is required")
		case "min":
			if e.Kind() == reflect.String {
				b.WriteString(field + " must have at least " + e.Param() + " characters")
			} else {
				b.WriteString(field + " must be at least " + e.Param())
			}
		case "max":
			if e.Kind() == reflect.String {
				b.WriteString(field + " must have at most " + e.Param() + " characters")
			} else {
				b.WriteString(field + " must be at most " + e.Param())
			}
		case "oneof":
			b.WriteString(field + " must be one of: " + e.Param())
		default:
			b.WriteString(field + " is invalid")
		}
	}
	return b.String()
}
