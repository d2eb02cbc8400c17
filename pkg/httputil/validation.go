package httputil

import (
	"github.com/go-playground/validator/v10"
	"github.com/brightcampus/schoolcore/pkg/errors"
)

var validate = validator.New()

// Validate checks a decoded request struct against its validate tags and
// folds every failing field into one Validation AppError, so the client
// sees all problems in a single round trip.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	details := make(map[string]string)
	for _, fe := range err.(validator.ValidationErrors) {
		details[fe.Field()] = fieldMessage(fe)
	}
	return errors.Validation(details)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "uuid":
		return "must be a valid UUID"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "invalid value"
	}
}

// RegisterCustomValidation adds a project-specific tag to the shared
// validator instance.
func RegisterCustomValidation(tag string, fn validator.Func) error {
	return validate.RegisterValidation(tag, fn)
}
