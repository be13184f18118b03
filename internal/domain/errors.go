package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrMissingConfig     = errors.New("missing configuration")
	ErrNoResultURL       = errors.New("model output has no result url")
	ErrSuperseded        = errors.New("superseded by a newer capture")
)

// ValidationError reports a malformed or missing request field. It is always
// surfaced synchronously as a client error and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
