package features

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"churninsight/internal/apperr"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("subscription", func(fl validator.FieldLevel) bool {
			return SubscriptionType(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("payment", func(fl validator.FieldLevel) bool {
			return PaymentMethod(fl.Field().String()).Valid()
		})
		validate = v
	})
	return validate
}

// Validate checks every range and enum constraint of f and reports all
// failing fields in one validation error.
func Validate(f CustomerFeatures) error {
	violations := validationViolations(f)
	if len(violations) > 0 {
		return apperr.Validation(violations)
	}
	return nil
}

func validationViolations(f CustomerFeatures) []apperr.Violation {
	err := structValidator().Struct(f)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []apperr.Violation{{Field: "features", Message: err.Error()}}
	}
	out := make([]apperr.Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, apperr.Violation{Field: fe.Field(), Message: violationMessage(fe)})
	}
	return out
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "subscription":
		return "must be one of: " + joinLiterals(SubscriptionTypes)
	case "payment":
		return "must be one of: " + joinLiterals(PaymentMethods)
	default:
		return fmt.Sprintf("failed %q constraint", fe.Tag())
	}
}

func joinLiterals[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
