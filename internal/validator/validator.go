package validator

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator represents a validator instance
type Validator struct {
	validate *validator.Validate
}

// New creates a new validator instance
func New() *Validator {
	once.Do(func() {
		validate = validator.New()

		// Register custom validation functions
		_ = validate.RegisterValidation("country_code", validateCountryCode)
		_ = validate.RegisterValidation("url_template", validateURLTemplate)

		// Use mapstructure or JSON tag names in error messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"mapstructure", "json"} {
				name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})
	})

	return &Validator{
		validate: validate,
	}
}

// Struct validates a struct
func (v *Validator) Struct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("invalid validation error: %w", err)
		}

		var errMsgs []string
		for _, err := range err.(validator.ValidationErrors) {
			errMsgs = append(errMsgs, formatError(err))
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errMsgs, "; "))
	}
	return nil
}

// Var validates a single variable
func (v *Validator) Var(field any, tag string) error {
	return v.validate.Var(field, tag)
}

// formatError formats a validation error
func formatError(err validator.FieldError) string {
	field := err.Namespace()
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt", "gte":
		return fmt.Sprintf("%s must be %s %s", field, map[string]string{"gt": ">", "gte": ">="}[err.Tag()], err.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, err.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, err.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	case "country_code":
		return fmt.Sprintf("%s must be a two-letter country code", field)
	case "url_template":
		return fmt.Sprintf("%s must be a URL containing {cc}", field)
	default:
		return fmt.Sprintf("%s failed on tag %s", field, err.Tag())
	}
}

func validateCountryCode(fl validator.FieldLevel) bool {
	cc := fl.Field().String()
	if cc == "" {
		return true
	}
	if len(cc) != 2 {
		return false
	}
	for _, r := range strings.ToLower(cc) {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func validateURLTemplate(fl validator.FieldLevel) bool {
	tmpl := fl.Field().String()
	if tmpl == "" {
		return true
	}
	if !strings.Contains(tmpl, "{cc}") {
		return false
	}
	u, err := url.Parse(strings.ReplaceAll(tmpl, "{cc}", "xx"))
	return err == nil && u.Scheme != "" && u.Host != ""
}
