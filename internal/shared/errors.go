package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConsistency indicates the request conflicts with persisted state.
	ErrConsistency = errors.New("consistency violation")
)

// Validationf wraps ErrValidation with a message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Consistencyf wraps ErrConsistency with a message.
func Consistencyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}
