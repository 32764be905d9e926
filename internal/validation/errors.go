// Package validation holds the error type for edits that are rejected
// locally, before any request reaches the backend.
package validation

import (
	"errors"
	"fmt"
)

type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func Errorf(field, format string, args ...any) error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Is reports whether err, or anything it wraps, is a validation error.
func Is(err error) bool {
	var verr *Error
	return errors.As(err, &verr)
}
