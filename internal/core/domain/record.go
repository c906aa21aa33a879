// Package domain contains the core entity types for flotilla.
package domain

import (
	"errors"
	"time"
)

// =============================================================================
// Record Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// =============================================================================
// Deployment Phase
// =============================================================================

type Phase string

const (
	PhasePending        Phase = "pending"
	PhaseDeploying      Phase = "deploying"
	PhaseHealthChecking Phase = "health-checking"
	PhaseHealthy        Phase = "healthy"
	PhaseFailed         Phase = "failed"
	PhaseSkipped        Phase = "skipped"
)

// =============================================================================
// Deployment Record
// =============================================================================

// Record tracks one service's deployment state across runs. Records are
// created when the orchestration loop first schedules a service and are never
// deleted within a run; they persist for inspection and for idempotent
// re-runs.
type Record struct {
	Service        string            `json:"service"`
	Phase          Phase             `json:"phase"`
	DescriptorHash string            `json:"descriptor_hash"`

	// Handle is the platform-assigned identifier for the deployed service.
	Handle string `json:"handle,omitempty"`

	// ResolvedConfig is the literal configuration sent on the last deploy
	// attempt. Recomputed on every attempt in case dependency outputs changed.
	ResolvedConfig map[string]string `json:"resolved_config,omitempty"`

	// Outputs holds the live values the service exposes to dependents
	// (e.g. an assigned internal address). Populated only after health
	// verification passes; live outputs are not stable before that.
	Outputs map[string]string `json:"outputs,omitempty"`

	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord creates a pending record for a service.
func NewRecord(service, descriptorHash string) *Record {
	now := time.Now().UTC()
	return &Record{
		Service:        service,
		Phase:          PhasePending,
		DescriptorHash: descriptorHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed phase transitions.
// healthy → deploying covers forced or descriptor-change redeploys;
// failed/skipped → deploying covers retries on a later run.
// deploying/health-checking → deploying covers records left mid-flight by an
// interrupted run: the next run must be able to pick them back up.
var validTransitions = map[Phase][]Phase{
	PhasePending:        {PhaseDeploying, PhaseSkipped},
	PhaseDeploying:      {PhaseDeploying, PhaseHealthChecking, PhaseFailed},
	PhaseHealthChecking: {PhaseDeploying, PhaseHealthy, PhaseFailed},
	PhaseHealthy:        {PhaseDeploying},
	PhaseFailed:         {PhaseDeploying},
	PhaseSkipped:        {PhaseDeploying},
}

// ValidateTransition checks if a phase transition is valid.
func ValidateTransition(from, to Phase) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}
	for _, p := range allowed {
		if p == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// Transition attempts to transition the record to a new phase.
func (r *Record) Transition(to Phase) error {
	if err := ValidateTransition(r.Phase, to); err != nil {
		return err
	}

	r.Phase = to
	r.UpdatedAt = time.Now().UTC()

	// Clear stale failure context on a fresh attempt
	if to == PhaseDeploying {
		r.LastError = ""
	}

	return nil
}

// TransitionToFailed transitions to failed with an error message.
func (r *Record) TransitionToFailed(errorMessage string) error {
	switch r.Phase {
	case PhaseDeploying, PhaseHealthChecking:
		r.Phase = PhaseFailed
		r.LastError = errorMessage
		r.UpdatedAt = time.Now().UTC()
		return nil
	default:
		return ErrInvalidTransition
	}
}

// IsSatisfiedBy reports whether the record already satisfies a descriptor
// with the given content hash: the service is healthy and nothing about its
// definition has changed, so a re-run may skip it.
func (r *Record) IsSatisfiedBy(descriptorHash string) bool {
	return r.Phase == PhaseHealthy && r.DescriptorHash == descriptorHash
}
