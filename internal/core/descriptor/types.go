package descriptor

import "time"

// =============================================================================
// Health Check Defaults
// =============================================================================

// Defaults applied when a descriptor omits health polling parameters.
// Services have heterogeneous startup costs (a database takes longer to accept
// connections than a stateless API), so every field is overridable per service.
const (
	DefaultHealthPath     = "/health"
	DefaultHealthInterval = 5 * time.Second
	DefaultHealthTimeout  = 2 * time.Minute
	DefaultHealthAttempts = 10
)

// =============================================================================
// Descriptor Types
// =============================================================================

// HealthSpec configures health polling for one service.
type HealthSpec struct {
	// Path is the HTTP path polled on the service's platform-assigned domain.
	Path string

	// Interval is the spacing between health polls.
	Interval time.Duration

	// Timeout is the wall-clock budget for the whole verification.
	Timeout time.Duration

	// MaxAttempts is the number of failing (reachable but unhealthy)
	// responses tolerated before the service is declared failed.
	MaxAttempts int
}

// Normalize fills zero-valued polling parameters with defaults.
func (h HealthSpec) Normalize() HealthSpec {
	if h.Path == "" {
		h.Path = DefaultHealthPath
	}
	if h.Interval <= 0 {
		h.Interval = DefaultHealthInterval
	}
	if h.Timeout <= 0 {
		h.Timeout = DefaultHealthTimeout
	}
	if h.MaxAttempts <= 0 {
		h.MaxAttempts = DefaultHealthAttempts
	}
	return h
}

// Service describes one deployable unit: its identity, dependencies, source
// location, start command, raw configuration, and health polling parameters.
// Descriptors are loaded once at orchestration start and immutable for the
// duration of a run.
type Service struct {
	Name         string
	DependsOn    []string
	Source       string
	StartCommand string

	// Config maps configuration keys to raw values. A raw value is either a
	// literal or contains ${{service.field}} reference tokens expanded by the
	// resolver once the referenced dependencies are live.
	Config map[string]string

	Health HealthSpec
}
