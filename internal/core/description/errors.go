// Package description parses YAML system descriptions into the topoplan data
// model. This is part of the Functional Core - all functions are pure with no I/O.
package description

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("system description is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Structure errors
	ErrNoApplications = errors.New("system description must define at least one application")
	ErrMissingField   = errors.New("required field is missing")
	ErrInvalidValue   = errors.New("invalid value")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "applications[0].modules[1].connections.out"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// IsParseError reports whether err came from reading a description rather
// than from compiling it.
func IsParseError(err error) bool {
	var perr *ParseError
	return errors.As(err, &perr) || errors.Is(err, ErrEmptyInput)
}
