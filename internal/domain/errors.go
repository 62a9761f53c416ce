package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the record does not exist or is not owned by
	// the requesting user.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is the parent of every ValidationError.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError describes a malformed or missing field on data entry.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
