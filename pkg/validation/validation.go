// Package validation wraps go-playground/validator for command structs.
package validation

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mcclellann/poolfund/pkg/apperr"
	"github.com/shopspring/decimal"
)

// Validator validates command structs and reports failures as a single
// ValidationError.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator that understands decimal.Decimal fields, so
// numeric tags such as gt=0 and lte=100 apply to money and rates.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Validator{v: v}
}

func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

// Struct validates s.
func (v *Validator) Struct(s interface{}) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.Validation("%v", err)
	}
	var messages []string
	for _, e := range validationErrors {
		messages = append(messages, message(e))
	}
	return apperr.Validation("%s", strings.Join(messages, "; "))
}

func message(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return field + " must be greater than " + e.Param()
	case "gte":
		return field + " must be at least " + e.Param()
	case "lte":
		return field + " must be at most " + e.Param()
	case "oneof":
		return field + " must be one of: " + e.Param()
	case "max":
		return field + " must be at most " + e.Param() + " characters"
	case "min":
		return field + " must be at least " + e.Param() + " characters"
	case "email":
		return field + " must be a valid email address"
	default:
		return field + " is invalid (" + e.Tag() + ")"
	}
}
