package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"timebank/internal/model"
)

var (
	validate *validator.Validate
	once     sync.Once
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New()

		// Report json names so errors match the request body.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		validate.RegisterValidation("location_type", func(fl validator.FieldLevel) bool {
			return model.LocationType(fl.Field().String()).Valid()
		})
	})
	return validate
}

// Struct validates s and converts the first failure into a *model.ValidationError.
func Struct(s interface{}) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &model.ValidationError{Message: err.Error()}
	}

	fe := fieldErrs[0]
	return &model.ValidationError{Field: fe.Field(), Message: message(fe)}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "is too long (max " + fe.Param() + ")"
	case "gtfield":
		return "must be after " + fe.Param()
	case "nefield":
		return "must differ from " + fe.Param()
	case "location_type":
		return "must be online or on_campus"
	case "required_if":
		return "is required for this location type"
	default:
		return "is invalid"
	}
}
