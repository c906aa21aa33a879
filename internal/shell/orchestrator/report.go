package orchestrator

import (
	"fmt"
	"io"

	"github.com/artpar/flotilla/internal/core/domain"
	"github.com/artpar/flotilla/internal/shell/platform"
)

// =============================================================================
// Run Report
// =============================================================================

// ServiceResult is the outcome for one service within a run.
type ServiceResult struct {
	Service        string
	Phase          domain.Phase
	DeployAttempts int
	HealthAttempts int
	LastHealth     platform.Health
	LastStatus     platform.Status
	Error          string
}

// WaveResult is the outcome for one wave.
type WaveResult struct {
	Index    int
	Services []ServiceResult

	// Completed is true when every member is healthy or skipped.
	Completed bool
}

// Report summarizes a run: which waves completed and, on failure, which wave
// halted progress and why.
type Report struct {
	RunID      string
	TotalWaves int
	Waves      []WaveResult
	Halted     bool
	HaltedWave int
	Cancelled  bool
}

// Failed returns the failed service results across all waves.
func (r *Report) Failed() []ServiceResult {
	var failed []ServiceResult
	for _, wave := range r.Waves {
		for _, svc := range wave.Services {
			if svc.Phase == domain.PhaseFailed {
				failed = append(failed, svc)
			}
		}
	}
	return failed
}

// Write prints a human-readable run summary.
func (r *Report) Write(w io.Writer) {
	for _, wave := range r.Waves {
		status := "ok"
		if !wave.Completed {
			status = "FAILED"
		}
		fmt.Fprintf(w, "wave %d [%s]\n", wave.Index, status)
		for _, svc := range wave.Services {
			switch svc.Phase {
			case domain.PhaseFailed:
				fmt.Fprintf(w, "  %-20s %s (deploy attempts: %d", svc.Service, svc.Phase, svc.DeployAttempts)
				if svc.LastHealth != "" {
					fmt.Fprintf(w, ", last health: %s", svc.LastHealth)
				}
				if svc.LastStatus != "" {
					fmt.Fprintf(w, ", last status: %s", svc.LastStatus)
				}
				fmt.Fprintf(w, ")\n    %s\n", svc.Error)
			default:
				fmt.Fprintf(w, "  %-20s %s\n", svc.Service, svc.Phase)
			}
		}
	}

	switch {
	case r.Cancelled:
		fmt.Fprintf(w, "run cancelled after %d/%d waves\n", len(r.Waves), r.TotalWaves)
	case r.Halted:
		fmt.Fprintf(w, "run halted at wave %d (%d/%d waves completed)\n",
			r.HaltedWave, len(r.Waves)-1, r.TotalWaves)
	default:
		fmt.Fprintf(w, "all %d waves healthy\n", r.TotalWaves)
	}
}
