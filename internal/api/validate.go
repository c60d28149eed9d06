package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"

	"github.com/go-playground/validator/v10"
)

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

// Struct validates a request payload and reports the first failing field
// as a *domain.ValidationError.
func (v *requestValidator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError(domain.ReasonMissingField, "", err.Error())
	}

	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return domain.NewValidationError(domain.ReasonMissingField, field, field+" is required")
	case "email":
		return domain.NewValidationError(domain.ReasonMissingField, field, field+" must be a valid email address")
	}
	if field == "durationMinutes" {
		return domain.NewValidationError(domain.ReasonInvalidDuration, field, fmt.Sprintf("%s must be between 1 and %d", field, models.MaxDurationMinutes))
	}
	switch field {
	case "day", "start", "end":
		return domain.NewValidationError(domain.ReasonInvalidWindow, field, fmt.Sprintf("%s failed %q check", field, fe.Tag()))
	default:
		return domain.NewValidationError(domain.ReasonMissingField, field, fmt.Sprintf("%s failed %q check", field, fe.Tag()))
	}
}
