package platform

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrDeployRejected is returned when the platform refuses a deploy request.
	ErrDeployRejected = errors.New("deploy request rejected")

	// ErrServiceNotFound is returned when a handle no longer resolves to a service.
	ErrServiceNotFound = errors.New("service not found on platform")

	// ErrUnauthorized is returned when the platform rejects the API token.
	ErrUnauthorized = errors.New("platform rejected credentials")
)

// GatewayError wraps platform API errors with call context.
type GatewayError struct {
	Op      string // Gateway operation (e.g. "Deploy")
	Service string // Service name if applicable
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Service, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a new GatewayError.
func NewGatewayError(op, service, message string, err error) *GatewayError {
	return &GatewayError{
		Op:      op,
		Service: service,
		Message: message,
		Err:     err,
	}
}
