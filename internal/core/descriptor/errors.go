// Package descriptor contains pure functions for parsing and validating
// service descriptor files. This is part of the Functional Core - the only
// I/O is reading the file handed to ParseFile.
package descriptor

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("descriptor file is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Structure errors
	ErrNoServices = errors.New("descriptor must define at least one service")

	// Service validation errors
	ErrServiceNoName     = errors.New("service must have a name")
	ErrDuplicateService  = errors.New("duplicate service name")
	ErrSelfDependency    = errors.New("service cannot depend on itself")
	ErrUnknownDependency = errors.New("dependency references undeclared service")
	ErrInvalidHealthSpec = errors.New("invalid health check configuration")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.api.depends_on[0]"
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
