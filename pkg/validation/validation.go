// Package validation checks request DTOs with go-playground/validator and
// reports the first failing field, by its JSON name, as a domain validation
// error.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
)

var std = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool { //nolint:errcheck // static tag
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool { //nolint:errcheck // static tag
		_, err := id.ParseRole(fl.Field().String())
		return err == nil
	})
	return v
}

// jsonName reports a field by its wire name; untagged fields fall back to
// the lowercased Go name.
func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return strings.ToLower(f.Name)
	}
	return name
}

// messages maps a validator tag to its message; %[1]s is the field and
// %[2]s the tag parameter.
var messages = map[string]string{
	"required": "%[1]s is required",
	"notblank": "%[1]s must not be blank",
	"eth_addr": "%[1]s must be a valid ethereum address",
	"min":      "%[1]s must be at least %[2]s",
	"max":      "%[1]s must be at most %[2]s",
	"oneof":    "%[1]s must be one of [%[2]s]",
	"role":     "%[1]s must be one of applicant, employer, institution, admin",
}

// Validate runs the struct tags on req.
func Validate(req any) error {
	if err := std.Struct(req); err != nil {
		return dErrors.New(dErrors.CodeValidation, ErrorMessage(err))
	}
	return nil
}

// ErrorMessage renders the first field error; anything else reads as an
// invalid body.
func ErrorMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request body"
	}
	fe := fieldErrs[0]
	if format, ok := messages[fe.ActualTag()]; ok {
		return fmt.Sprintf(format, fe.Field(), fe.Param())
	}
	return fe.Field() + " is invalid"
}
