package usecase

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned for unknown face record ids and missing media.
var ErrNotFound = errors.New("not found")

// ValidationError describes malformed or missing input, or a malformed provider payload.
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

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
