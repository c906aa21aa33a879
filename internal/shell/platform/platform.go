// Package platform implements the gateway to the external cloud application
// platform. This is part of the Imperative Shell - it handles I/O with the
// platform API.
//
// The gateway performs acceptance waiting only: Deploy returns once the
// platform has accepted the request, not once the service is ready. All
// readiness waiting belongs to the health verifier.
package platform

import "context"

// =============================================================================
// Gateway Types
// =============================================================================

// Status is a platform lifecycle state for a deployed service.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusRunning      Status = "running"
	StatusCrashed      Status = "crashed"
	StatusUnknown      Status = "unknown"
)

// Health is the result of one health probe.
type Health string

const (
	// HealthPass means the health endpoint responded healthy.
	HealthPass Health = "pass"

	// HealthFail means the endpoint was reachable but reported unhealthy
	// (non-2xx or a degraded body).
	HealthFail Health = "fail"

	// HealthUnreachable means the probe could not reach the endpoint at all
	// (DNS or network error). Treated as transient by the verifier.
	HealthUnreachable Health = "unreachable"
)

// Handle identifies one deployed service on the platform.
type Handle struct {
	ServiceID   string
	ServiceName string
}

// DeployRequest asks the platform to create or update a named deployable
// unit with a source reference, a start command, and a resolved environment
// mapping.
type DeployRequest struct {
	Name         string
	Source       string
	StartCommand string
	Env          map[string]string
}

// =============================================================================
// Gateway Interface
// =============================================================================

// Gateway is the abstraction boundary to the external cloud platform.
// All calls are synchronous from the orchestrator's point of view.
type Gateway interface {
	// Deploy submits a create-or-update request and returns once the
	// platform has accepted it.
	Deploy(ctx context.Context, req DeployRequest) (Handle, error)

	// GetStatus returns the platform lifecycle state of a service.
	GetStatus(ctx context.Context, h Handle) (Status, error)

	// GetHealth probes the service's health endpoint at the given path.
	GetHealth(ctx context.Context, h Handle, path string) (Health, error)

	// GetLiveOutputs returns the runtime-assigned values the service exposes
	// to dependents (e.g. an internal address).
	GetLiveOutputs(ctx context.Context, h Handle) (map[string]string, error)

	// SetVariable upserts a single environment variable on a service.
	SetVariable(ctx context.Context, h Handle, key, value string) error

	// GetLogs fetches up to limit recent log lines for a service.
	GetLogs(ctx context.Context, h Handle, limit int) ([]string, error)
}
