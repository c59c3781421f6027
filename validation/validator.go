package validation

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/kbukum/resetkit/errors"
)

// Validator collects validation errors.
type Validator struct {
	errors []FieldError
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new Validator.
func New() *Validator {
	return &Validator{errors: make([]FieldError, 0)}
}

func (v *Validator) add(field, message string) {
	v.errors = append(v.errors, FieldError{Field: field, Message: message})
}

// Err returns an INVALID_CONFIG AppError listing every field error, or nil.
func (v *Validator) Err() error {
	if len(v.errors) == 0 {
		return nil
	}
	messages := make([]string, len(v.errors))
	for i, e := range v.errors {
		messages[i] = e.Field + " " + e.Message
	}
	appErr := apperrors.InvalidConfig(v.errors[0].Field, strings.Join(messages, "; "))
	return appErr.WithDetail("fields", v.errors)
}

// Required checks if a string is non-empty.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.add(field, "is required")
	}
	return v
}

// Min checks if a number meets minimum value.
func (v *Validator) Min(field string, value, minVal int64) *Validator {
	if value < minVal {
		v.add(field, fmt.Sprintf("must be at least %d", minVal))
	}
	return v
}

// Duration checks that a non-empty string parses as a time.Duration.
func (v *Validator) Duration(field, value string) *Validator {
	if value == "" {
		return v
	}
	if _, err := time.ParseDuration(value); err != nil {
		v.add(field, "must be a duration like 15s")
	}
	return v
}

// OneOf checks if a value is one of the allowed values.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	if value == "" {
		return v
	}
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
	return v
}

// Custom applies a custom validation condition.
func (v *Validator) Custom(condition bool, field, message string) *Validator {
	if !condition {
		v.add(field, message)
	}
	return v
}

// Nested records err, typically a sub-config's Validate result, against
// field.
func (v *Validator) Nested(field string, err error) *Validator {
	if err != nil {
		v.add(field, err.Error())
	}
	return v
}
