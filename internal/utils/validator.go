// internal/utils/validator.go
package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("service_id", validateServiceID)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// Service identifiers are lowercase snake_case drawn from a closed catalog;
// the schedule lookup is the authority, this only rejects junk early.
func validateServiceID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if len(id) < 3 || len(id) > 50 {
		return false
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && r != '_' {
			return false
		}
	}
	return true
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "latitude":
		return "Latitude must be between -90 and 90"
	case "longitude":
		return "Longitude must be between -180 and 180"
	case "service_id":
		return "Service identifier must be lowercase snake_case"
	case "email":
		return "Invalid email format"
	default:
		return e.Field() + " is invalid"
	}
}
