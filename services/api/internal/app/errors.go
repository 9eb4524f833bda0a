package app

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")

	// ErrInvalidTransition is returned when an appointment status change is
	// not allowed from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError carries a message safe to show to clients.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
