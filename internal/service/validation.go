package service

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their JSON names so devices see the keys they sent
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("command_type", func(fl validator.FieldLevel) bool {
		switch models.CommandType(fl.Field().String()) {
		case models.CommandDispense, models.CommandSetPrice, models.CommandLock, models.CommandUnlock, models.CommandReboot:
			return true
		}
		return false
	})

	return v
}

// validateInput runs the struct tags and converts failures into a ValidationError
func validateInput(in interface{}) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate input")
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have at most %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must have exactly %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "numeric":
		return "must contain only digits"
	case "hexadecimal":
		return "must be hexadecimal"
	case "json":
		return "must be valid JSON"
	case "email":
		return "must be a valid email address"
	case "e164":
		return "must be an E.164 phone number"
	case "uuid":
		return "must be a UUID"
	case "command_type":
		return "is not a known command type"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
