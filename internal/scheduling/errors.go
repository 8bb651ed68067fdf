package scheduling

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrSlotUnavailable is returned when capacity or advance notice is violated at write time.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrInvalidTransition matches every *TransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is returned when a tenant-scoped record does not exist.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports bad input shape. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError reports a status change outside the allowed graph.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
