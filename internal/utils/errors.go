package utils

import (
	"errors"
	"fmt"
)

// ValidationError represents a rejected forecast input.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the message, prefixed with the field when one is set.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError creates a ValidationError without a field.
func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

// NewFieldError creates a ValidationError for a named input field.
//
// Parameters:
//   - field: The request field that failed validation.
//   - format: The format string.
//   - args: Arguments for the format string.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewFieldError(field, format string, args ...interface{}) error {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
