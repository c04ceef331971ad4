package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"threadboard/internal/models"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// validationError turns the first failed rule into a ValidationError.
func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return models.NewInternalError(err)
	}

	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return models.NewValidationError(fmt.Sprintf("%s is required", fe.Field()))
	case "email":
		return models.NewValidationError(fmt.Sprintf("%s must be a valid email address", fe.Field()))
	case "http_url", "url":
		return models.NewValidationError(fmt.Sprintf("%s must be a valid URL", fe.Field()))
	case "max":
		return models.NewValidationError(fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
	default:
		return models.NewValidationError(fmt.Sprintf("%s is invalid", fe.Field()))
	}
}
