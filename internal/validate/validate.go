// Package validate checks request structs tagged with `validate:` rules and
// turns failures into apperr validation errors.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jbweber/homelab/paddock/internal/apperr"
)

// threadsPattern matches CPU pinning lists such as "0-1,3"
var threadsPattern = regexp.MustCompile(`^[0-9]+(-[0-9]+)?(,[0-9]+(-[0-9]+)?)*$`)

var instance = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("threads", func(fl validator.FieldLevel) bool {
		return threadsPattern.MatchString(fl.Field().String())
	})
	return v
}

// Struct validates v, returning an apperr validation error naming the
// first failing field and listing every failure as a hint.
func Struct(v any) error {
	err := instance.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Wrap(apperr.KindValidation, "invalid request", err)
	}

	hints := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		hints = append(hints, describe(fe))
	}
	return apperr.Validation("invalid "+fieldErrs[0].Field(), strings.Join(hints, "\n"))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "threads":
		return fmt.Sprintf("%s must be a CPU list like 0-1,3", fe.Field())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed the %s check", fe.Field(), fe.Tag())
	}
}
