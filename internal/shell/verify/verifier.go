// Package verify polls a deployed service's health signal until it passes or
// its attempt budget runs out.
package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/artpar/flotilla/internal/core/descriptor"
	"github.com/artpar/flotilla/internal/shell/platform"
)

// =============================================================================
// Verification Result
// =============================================================================

// Result is the outcome of one verification.
type Result struct {
	// Healthy reports whether a passing signal was observed within budget.
	Healthy bool

	// Attempts is the number of failing (reachable but unhealthy) responses
	// observed. Unreachable probes are transient and do not count.
	Attempts int

	// LastHealth is the last observed probe outcome, kept for operator
	// reporting on failure.
	LastHealth platform.Health

	// LastStatus is the last platform lifecycle state seen, if any.
	LastStatus platform.Status

	// Err carries a timeout or cancellation cause on failure.
	Err error
}

// =============================================================================
// Verifier
// =============================================================================

// Verifier turns a deployed service's health endpoint into a single
// healthy-or-failed answer. It has no state of its own; the orchestration
// loop invokes it synchronously, which intentionally blocks the calling
// wave - a dependent must never observe live outputs from an unverified
// dependency.
type Verifier struct {
	gateway platform.Gateway
	logger  *slog.Logger
}

// New creates a verifier polling through the given gateway.
func New(gateway platform.Gateway, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		gateway: gateway,
		logger:  logger.With("component", "health_verifier"),
	}
}

// Verify polls the service's health endpoint at spec.Interval spacing until
// one of:
//   - a pass response: returns healthy immediately
//   - spec.MaxAttempts failing responses: returns failed
//   - spec.Timeout wall-clock elapsed (or ctx cancelled): returns failed
//
// An unreachable probe is a transient condition (the service may still be
// binding its port or DNS may not have propagated); it is retried without
// consuming an attempt and is bounded only by the wall-clock timeout. A
// crashed platform status short-circuits to failed - the process is gone,
// polling cannot help.
func (v *Verifier) Verify(ctx context.Context, h platform.Handle, spec descriptor.HealthSpec) Result {
	spec = spec.Normalize()
	logger := v.logger.With("service", h.ServiceName, "path", spec.Path)

	ctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	result := Result{LastHealth: platform.HealthUnreachable}

	ticker := time.NewTicker(spec.Interval)
	defer ticker.Stop()

	for {
		health, err := v.gateway.GetHealth(ctx, h, spec.Path)
		if err != nil {
			health = platform.HealthUnreachable
		}
		result.LastHealth = health

		switch health {
		case platform.HealthPass:
			result.Healthy = true
			logger.Info("health check passed", "attempts", result.Attempts)
			return result

		case platform.HealthFail:
			result.Attempts++
			logger.Debug("health check failed",
				"attempt", result.Attempts, "max_attempts", spec.MaxAttempts)
			if result.Attempts >= spec.MaxAttempts {
				logger.Warn("health attempts exhausted", "attempts", result.Attempts)
				return result
			}

			// A failing endpoint with a dead process will not recover.
			if status, sErr := v.gateway.GetStatus(ctx, h); sErr == nil {
				result.LastStatus = status
				if status == platform.StatusCrashed {
					logger.Warn("service crashed during health verification")
					return result
				}
			}

		case platform.HealthUnreachable:
			logger.Debug("health endpoint unreachable, retrying")
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			logger.Warn("health verification timed out",
				"attempts", result.Attempts, "timeout", spec.Timeout)
			return result
		case <-ticker.C:
		}
	}
}
