package parser

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"stepbox/pkg/pipeline"
)

// ErrNotFound is returned when the pipeline file does not exist.
var ErrNotFound = errors.New("pipeline file not found")

var validate *validator.Validate

var containerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

func init() {
	validate = validator.New()
	mustRegister(validate, "containername", func(fl validator.FieldLevel) bool {
		return containerNamePattern.MatchString(fl.Field().String())
	})
	mustRegister(validate, "envpair", func(fl validator.FieldLevel) bool {
		k, _, ok := strings.Cut(fl.Field().String(), "=")
		return ok && strings.TrimSpace(k) != ""
	})
	validate.RegisterStructValidation(validateStep, pipeline.Step{})
}

// mustRegister panics when tag cannot be registered.
func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("failed to register %q validation: %v", tag, err))
	}
}

// Parse reads and validates a pipeline YAML file, returning the parsed Pipeline struct or an error.
func Parse(filePath string) (*pipeline.Pipeline, error) {
	// Check if file exists
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filePath)
	}

	v := viper.New()
	v.SetConfigFile(filePath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	var p pipeline.Pipeline
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file - malformed YAML: %w", err)
	}

	if err := validate.Struct(&p); err != nil {
		return nil, formatValidationError(err)
	}

	return &p, nil
}

// validateStep checks the rules that span several fields of a step.
func validateStep(sl validator.StructLevel) {
	step := sl.Current().Interface().(pipeline.Step)
	n := len(step.Args())
	for _, i := range step.Mask {
		if i >= n {
			sl.ReportError(step.Mask, "Mask", "Mask", "maskrange", fmt.Sprint(n))
			return
		}
	}
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var errorMessages []string
		for _, e := range validationErrors {
			errorMessages = append(errorMessages, formatFieldError(e))
		}

		if len(errorMessages) == 1 {
			return fmt.Errorf("validation error: %s", errorMessages[0])
		}

		result := "validation errors:\n"
		for _, msg := range errorMessages {
			result += fmt.Sprintf("  - %s\n", msg)
		}
		return fmt.Errorf("%s", result)
	}
	return fmt.Errorf("validation failed: %w", err)
}

// formatFieldError formats a single validation error into a user-friendly message.
func formatFieldError(e validator.FieldError) string {
	field := e.Field()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("field '%s' is required but missing", field)
	case "required_without":
		return fmt.Sprintf("field '%s' is required when '%s' is not set", field, e.Param())
	case "excluded_with":
		return fmt.Sprintf("field '%s' cannot be combined with '%s'", field, e.Param())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", field, e.Param())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", field)
	case "containername":
		return fmt.Sprintf("field '%s' must start with a letter or digit and contain only letters, digits, '_', '.' and '-'", field)
	case "envpair":
		return fmt.Sprintf("field '%s' must be in KEY=value form", field)
	case "maskrange":
		return fmt.Sprintf("field '%s' indexes must be below the command length %s", field, e.Param())
	default:
		return fmt.Sprintf("field '%s' failed validation (%s)", field, tag)
	}
}
