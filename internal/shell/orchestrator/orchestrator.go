// Package orchestrator drives wave-ordered deployment of a descriptor set
// against the platform gateway, updating the state tracker as services move
// through their lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/flotilla/internal/core/descriptor"
	"github.com/artpar/flotilla/internal/core/domain"
	"github.com/artpar/flotilla/internal/core/resolve"
	"github.com/artpar/flotilla/internal/core/sequence"
	"github.com/artpar/flotilla/internal/shell/platform"
	"github.com/artpar/flotilla/internal/shell/store"
	"github.com/artpar/flotilla/internal/shell/verify"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrRunFailed is returned when one or more services failed after retry
	// exhaustion and the run halted.
	ErrRunFailed = errors.New("one or more services failed to deploy")

	// ErrRunCancelled is returned when the operator cancelled the run
	// between waves.
	ErrRunCancelled = errors.New("run cancelled between waves")

	// ErrUnknownOnlyTarget is returned when --only names an undeclared service.
	ErrUnknownOnlyTarget = errors.New("unknown service for --only")
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures one orchestration run.
type Config struct {
	// Concurrency bounds the number of services deployed in parallel within
	// a wave, to respect platform rate limits. Default: 4.
	Concurrency int

	// Force ignores the tracker's idempotency skip and redeploys healthy
	// services.
	Force bool

	// Only restricts the run to one service and its transitive dependencies.
	Only string
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator is the top-level deployment driver.
type Orchestrator struct {
	tracker  store.Tracker
	gateway  platform.Gateway
	verifier *verify.Verifier
	config   Config
	logger   *slog.Logger
}

// New creates an orchestrator.
func New(tracker store.Tracker, gateway platform.Gateway, config Config, logger *slog.Logger) *Orchestrator {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		tracker:  tracker,
		gateway:  gateway,
		verifier: verify.New(gateway, logger),
		config:   config,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Run deploys the descriptor set wave by wave.
//
// Graph validation (cycles, dangling references, undeclared template targets)
// happens up front, before any gateway call; a malformed graph aborts with no
// partial deployment. Waves execute strictly in sequence: the next wave
// starts only when every member of the current one is healthy or skipped.
// This barrier is what guarantees a dependent never resolves a reference
// against an unverified dependency.
//
// Operator cancellation takes effect between waves only; in-flight deploy and
// health calls run to completion or to their own timeouts so the platform is
// not left half-provisioned.
func (o *Orchestrator) Run(ctx context.Context, services []descriptor.Service) (*Report, error) {
	if o.config.Only != "" {
		var err error
		services, err = dependencyClosure(services, o.config.Only)
		if err != nil {
			return nil, err
		}
	}

	waves, err := sequence.Waves(services)
	if err != nil {
		return nil, err
	}
	if err := resolve.ValidateRefs(services); err != nil {
		return nil, err
	}

	report := &Report{RunID: uuid.New().String(), TotalWaves: len(waves)}
	o.logger.Info("starting run",
		"run_id", report.RunID, "services", len(services), "waves", len(waves))

	for i, wave := range waves {
		if ctx.Err() != nil {
			o.logger.Warn("run cancelled", "completed_waves", i)
			report.Cancelled = true
			return report, ErrRunCancelled
		}

		wr := o.runWave(ctx, i, wave)
		report.Waves = append(report.Waves, wr)

		if !wr.Completed {
			o.logger.Error("wave failed, halting run", "wave", i)
			report.Halted = true
			report.HaltedWave = i
			return report, ErrRunFailed
		}
	}

	o.logger.Info("run complete", "run_id", report.RunID, "waves", len(waves))
	return report, nil
}

// runWave deploys every member of one wave with bounded concurrency.
// Members are independent by construction; each worker is the single writer
// of its own service's record.
func (o *Orchestrator) runWave(ctx context.Context, index int, wave []descriptor.Service) WaveResult {
	o.logger.Info("starting wave", "wave", index, "services", serviceNames(wave))

	// In-flight platform calls finish or hit their own timeouts even if the
	// operator cancels mid-wave.
	workCtx := context.WithoutCancel(ctx)

	results := make([]ServiceResult, len(wave))
	g := new(errgroup.Group)
	g.SetLimit(o.config.Concurrency)

	for i, svc := range wave {
		g.Go(func() error {
			results[i] = o.deployService(workCtx, svc)
			return nil
		})
	}
	g.Wait()

	wr := WaveResult{Index: index, Services: results, Completed: true}
	for _, r := range results {
		if r.Phase != domain.PhaseHealthy && r.Phase != domain.PhaseSkipped {
			wr.Completed = false
		}
	}
	return wr
}

// deployService takes one service through skip check, resolution, deploy
// acceptance, and health verification.
func (o *Orchestrator) deployService(ctx context.Context, svc descriptor.Service) ServiceResult {
	logger := o.logger.With("service", svc.Name)
	hash := descriptor.Hash(svc)

	rec, err := o.tracker.Get(ctx, svc.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = domain.NewRecord(svc.Name, hash)
	case err != nil:
		rec = domain.NewRecord(svc.Name, hash)
		rec.Attempts++
		return o.fail(ctx, rec, logger, fmt.Sprintf("load state record: %v", err))
	}

	// Idempotency: a healthy record with a matching descriptor hash is
	// already satisfied. The stored record stays healthy so dependents can
	// still resolve against its outputs.
	if !o.config.Force && rec.IsSatisfiedBy(hash) {
		logger.Info("service already healthy, skipping")
		return ServiceResult{Service: svc.Name, Phase: domain.PhaseSkipped}
	}

	// A changed descriptor invalidates the prior record entirely.
	if rec.DescriptorHash != hash {
		logger.Info("descriptor changed, invalidating prior record")
		rec = domain.NewRecord(svc.Name, hash)
	}

	rec.Attempts++
	if err := rec.Transition(domain.PhaseDeploying); err != nil {
		return ServiceResult{Service: svc.Name, Phase: domain.PhaseFailed, Error: err.Error()}
	}
	if err := o.tracker.Put(ctx, rec); err != nil {
		return ServiceResult{Service: svc.Name, Phase: domain.PhaseFailed, Error: err.Error()}
	}

	// Resolved configuration is recomputed on every attempt in case
	// dependency outputs changed since a prior run.
	snapshot, err := store.Snapshot(ctx, o.tracker)
	if err != nil {
		return o.fail(ctx, rec, logger, fmt.Sprintf("snapshot state: %v", err))
	}
	resolved, err := resolve.Resolve(svc, snapshot)
	if err != nil {
		// A sequencing invariant was violated; retrying cannot fix it.
		return o.fail(ctx, rec, logger, err.Error())
	}
	rec.ResolvedConfig = resolved

	handle, err := o.gateway.Deploy(ctx, platform.DeployRequest{
		Name:         svc.Name,
		Source:       svc.Source,
		StartCommand: svc.StartCommand,
		Env:          resolved,
	})
	if err != nil {
		return o.fail(ctx, rec, logger, fmt.Sprintf("deploy not accepted: %v", err))
	}
	rec.Handle = handle.ServiceID

	if err := rec.Transition(domain.PhaseHealthChecking); err != nil {
		return o.fail(ctx, rec, logger, err.Error())
	}
	if err := o.tracker.Put(ctx, rec); err != nil {
		return o.fail(ctx, rec, logger, err.Error())
	}

	res := o.verifier.Verify(ctx, handle, svc.Health)
	if !res.Healthy {
		result := o.fail(ctx, rec, logger, fmt.Sprintf(
			"health verification failed after %d attempts (last: %s)",
			res.Attempts, res.LastHealth))
		result.HealthAttempts = res.Attempts
		result.LastHealth = res.LastHealth
		result.LastStatus = res.LastStatus
		return result
	}

	// Live outputs are only trustworthy after verified health.
	outputs, err := o.gateway.GetLiveOutputs(ctx, handle)
	if err != nil {
		return o.fail(ctx, rec, logger, fmt.Sprintf("fetch live outputs: %v", err))
	}
	rec.Outputs = outputs

	if err := rec.Transition(domain.PhaseHealthy); err != nil {
		return o.fail(ctx, rec, logger, err.Error())
	}
	if err := o.tracker.Put(ctx, rec); err != nil {
		return o.fail(ctx, rec, logger, err.Error())
	}

	logger.Info("service healthy", "outputs", len(outputs), "health_attempts", res.Attempts)
	return ServiceResult{
		Service:        svc.Name,
		Phase:          domain.PhaseHealthy,
		DeployAttempts: rec.Attempts,
		HealthAttempts: res.Attempts,
		LastHealth:     res.LastHealth,
	}
}

// fail records a failed attempt and builds the failure result.
func (o *Orchestrator) fail(ctx context.Context, rec *domain.Record, logger *slog.Logger, message string) ServiceResult {
	logger.Error("service failed", "error", message)

	if err := rec.TransitionToFailed(message); err != nil {
		rec.Phase = domain.PhaseFailed
		rec.LastError = message
	}
	if err := o.tracker.Put(ctx, rec); err != nil {
		logger.Error("failed to persist failure record", "error", err)
	}

	return ServiceResult{
		Service:        rec.Service,
		Phase:          domain.PhaseFailed,
		DeployAttempts: rec.Attempts,
		Error:          message,
	}
}

// =============================================================================
// --only Closure
// =============================================================================

// dependencyClosure filters the descriptor set down to one target service and
// its transitive dependencies, preserving declaration order.
func dependencyClosure(services []descriptor.Service, target string) ([]descriptor.Service, error) {
	byName := make(map[string]descriptor.Service, len(services))
	for _, svc := range services {
		byName[svc.Name] = svc
	}
	if _, ok := byName[target]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOnlyTarget, target)
	}

	wanted := map[string]bool{target: true}
	queue := []string{target}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dep := range byName[name].DependsOn {
			if !wanted[dep] {
				wanted[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	var filtered []descriptor.Service
	for _, svc := range services {
		if wanted[svc.Name] {
			filtered = append(filtered, svc)
		}
	}
	return filtered, nil
}

func serviceNames(services []descriptor.Service) []string {
	names := make([]string, len(services))
	for i, svc := range services {
		names[i] = svc.Name
	}
	return names
}
