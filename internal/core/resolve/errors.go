package resolve

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrUnknownService is returned when a reference names a service with no
	// deployment record.
	ErrUnknownService = errors.New("reference to unknown service")

	// ErrDependencyNotHealthy is returned when a referenced dependency has
	// not been verified healthy.
	ErrDependencyNotHealthy = errors.New("referenced dependency is not healthy")

	// ErrUnknownOutput is returned when a healthy dependency does not expose
	// the referenced output field.
	ErrUnknownOutput = errors.New("referenced output field not exposed")

	// ErrRefNotDeclared is returned when a config template references a
	// service missing from the descriptor's depends_on list.
	ErrRefNotDeclared = errors.New("template references service not in depends_on")
)

// ResolutionError wraps a resolution failure with the service and reference
// involved. In a correctly sequenced run a dependency is always deployed in
// an earlier wave, so these surface immediately as invariant violations
// rather than being retried.
type ResolutionError struct {
	Service string     // service whose config was being resolved
	Key     string     // configuration key holding the template
	Ref     ServiceRef // the reference that failed
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s.%s (${{%s.%s}}): %v",
		e.Service, e.Key, e.Ref.Service, e.Ref.Field, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
