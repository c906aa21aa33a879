package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/flotilla/internal/core/descriptor"
	"github.com/artpar/flotilla/internal/core/domain"
	"github.com/artpar/flotilla/internal/core/sequence"
	"github.com/artpar/flotilla/internal/shell/platform"
	"github.com/artpar/flotilla/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

func fastHealth(maxAttempts int) descriptor.HealthSpec {
	return descriptor.HealthSpec{
		Path:        "/health",
		Interval:    time.Millisecond,
		Timeout:     time.Second,
		MaxAttempts: maxAttempts,
	}
}

// dbAndAPI is the canonical two-wave descriptor set: api consumes the
// database's live address through a reference token.
func dbAndAPI() []descriptor.Service {
	return []descriptor.Service{
		{
			Name:   "db",
			Source: "github.com/acme/db",
			Health: fastHealth(3),
		},
		{
			Name:      "api",
			DependsOn: []string{"db"},
			Source:    "github.com/acme/api",
			Config: map[string]string{
				"DB_URL": "postgres://${{db.address}}/app",
			},
			Health: fastHealth(3),
		},
	}
}

func newTestOrchestrator(tracker store.Tracker, gw platform.Gateway, cfg Config) *Orchestrator {
	return New(tracker, gw, cfg, nil)
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_TwoWaveDeployResolvesReferences(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()
	gw.SetOutputs("db", map[string]string{"address": "db.internal:5432"})

	report, err := newTestOrchestrator(tracker, gw, Config{}).Run(context.Background(), dbAndAPI())
	require.NoError(t, err)

	require.Len(t, report.Waves, 2)
	assert.True(t, report.Waves[0].Completed)
	assert.True(t, report.Waves[1].Completed)
	assert.Equal(t, 2, gw.DeployCalls())

	// The reference token must have been expanded against db's live output.
	assert.Equal(t, "postgres://db.internal:5432/app", gw.DeployedEnv("api")["DB_URL"])

	rec, err := tracker.Get(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseHealthy, rec.Phase)
	assert.Equal(t, "postgres://db.internal:5432/app", rec.ResolvedConfig["DB_URL"])
}

func TestRun_CycleAbortsBeforeAnyDeploy(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()

	services := []descriptor.Service{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}
	report, err := newTestOrchestrator(tracker, gw, Config{}).Run(context.Background(), services)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, sequence.ErrCircularDependency)
	assert.Zero(t, gw.DeployCalls())
}

func TestRun_UndeclaredReferenceAbortsBeforeAnyDeploy(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()

	services := []descriptor.Service{
		{Name: "db"},
		{
			Name:   "api",
			Config: map[string]string{"DB_URL": "${{db.address}}"},
		},
	}
	report, err := newTestOrchestrator(tracker, gw, Config{}).Run(context.Background(), services)
	assert.Nil(t, report)
	require.Error(t, err)
	assert.Zero(t, gw.DeployCalls())
}

func TestRun_HealthFailureHaltsLaterWaves(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()
	gw.SetHealthSequence("db", platform.HealthFail)

	report, err := newTestOrchestrator(tracker, gw, Config{}).Run(context.Background(), dbAndAPI())
	assert.ErrorIs(t, err, ErrRunFailed)

	require.NotNil(t, report)
	assert.True(t, report.Halted)
	assert.Equal(t, 0, report.HaltedWave)
	require.Len(t, report.Waves, 1)

	// db failed with its attempt history recorded; api was never attempted.
	dbRec, err := tracker.Get(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFailed, dbRec.Phase)
	assert.NotEmpty(t, dbRec.LastError)

	assert.False(t, gw.Deployed("api"))
	_, err = tracker.Get(context.Background(), "api")
	assert.ErrorIs(t, err, store.ErrNotFound)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "db", failed[0].Service)
	assert.Equal(t, 3, failed[0].HealthAttempts)
}

func TestRun_DeployRejectionFailsService(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()
	gw.FailDeploy("db", errors.New("quota exceeded"))

	report, err := newTestOrchestrator(tracker, gw, Config{}).Run(context.Background(), dbAndAPI())
	assert.ErrorIs(t, err, ErrRunFailed)
	require.NotNil(t, report)

	rec, err := tracker.Get(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFailed, rec.Phase)
	assert.Contains(t, rec.LastError, "quota exceeded")
}

// =============================================================================
// Idempotency Tests
// =============================================================================

func TestRun_RerunSkipsHealthyServices(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()
	orch := newTestOrchestrator(tracker, gw, Config{})

	_, err := orch.Run(context.Background(), dbAndAPI())
	require.NoError(t, err)
	require.Equal(t, 2, gw.DeployCalls())

	report, err := orch.Run(context.Background(), dbAndAPI())
	require.NoError(t, err)
	assert.Equal(t, 2, gw.DeployCalls(), "re-run must not redeploy healthy services")

	for _, wave := range report.Waves {
		for _, svc := range wave.Services {
			assert.Equal(t, domain.PhaseSkipped, svc.Phase)
		}
	}

	// Stored records stay healthy so dependents can still resolve outputs.
	rec, err := tracker.Get(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseHealthy, rec.Phase)
}

func TestRun_ChangedDescriptorRedeploysOnlyThatService(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()
	orch := newTestOrchestrator(tracker, gw, Config{})

	services := dbAndAPI()
	_, err := orch.Run(context.Background(), services)
	require.NoError(t, err)
	require.Equal(t, 2, gw.DeployCalls())

	services[1].Config["LOG_LEVEL"] = "debug"
	_, err = orch.Run(context.Background(), services)
	require.NoError(t, err)
	assert.Equal(t, 3, gw.DeployCalls(), "only the changed service redeploys")
}

func TestRun_ForceRedeploysHealthyServices(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()

	_, err := newTestOrchestrator(tracker, gw, Config{}).Run(context.Background(), dbAndAPI())
	require.NoError(t, err)
	require.Equal(t, 2, gw.DeployCalls())

	_, err = newTestOrchestrator(tracker, gw, Config{Force: true}).Run(context.Background(), dbAndAPI())
	require.NoError(t, err)
	assert.Equal(t, 4, gw.DeployCalls())
}

func TestRun_FailedServiceRetriesOnRerun(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()
	gw.SetHealthSequence("db", platform.HealthFail)
	orch := newTestOrchestrator(tracker, gw, Config{})

	_, err := orch.Run(context.Background(), dbAndAPI())
	require.ErrorIs(t, err, ErrRunFailed)

	// The endpoint recovers; the next run picks the failed service back up.
	gw.SetHealthSequence("db", platform.HealthPass)
	_, err = orch.Run(context.Background(), dbAndAPI())
	require.NoError(t, err)

	rec, err := tracker.Get(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseHealthy, rec.Phase)
	assert.Equal(t, 2, rec.Attempts)
}

// =============================================================================
// Interrupted Run Recovery Tests
// =============================================================================

func TestRun_RecoversRecordStuckInDeploying(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()
	services := dbAndAPI()

	// A killed run left db mid-deploy with the same descriptor hash.
	rec := domain.NewRecord("db", descriptor.Hash(services[0]))
	require.NoError(t, rec.Transition(domain.PhaseDeploying))
	require.NoError(t, tracker.Put(context.Background(), rec))

	report, err := newTestOrchestrator(tracker, gw, Config{}).Run(context.Background(), services)
	require.NoError(t, err)
	require.Len(t, report.Waves, 2)
	assert.Equal(t, 2, gw.DeployCalls())

	got, err := tracker.Get(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseHealthy, got.Phase)
	assert.Equal(t, 1, got.Attempts)
}

func TestRun_RecoversRecordStuckInHealthChecking(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()
	services := dbAndAPI()

	rec := domain.NewRecord("db", descriptor.Hash(services[0]))
	require.NoError(t, rec.Transition(domain.PhaseDeploying))
	require.NoError(t, rec.Transition(domain.PhaseHealthChecking))
	rec.Attempts = 1
	require.NoError(t, tracker.Put(context.Background(), rec))

	_, err := newTestOrchestrator(tracker, gw, Config{}).Run(context.Background(), services)
	require.NoError(t, err)
	assert.Equal(t, 2, gw.DeployCalls())

	got, err := tracker.Get(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseHealthy, got.Phase)
	assert.Equal(t, 2, got.Attempts)
}

// =============================================================================
// Tracker Failure Tests
// =============================================================================

// faultyTracker fails every Get with a non-NotFound error.
type faultyTracker struct {
	*store.MemoryTracker
	getErr error
}

func (f *faultyTracker) Get(ctx context.Context, service string) (*domain.Record, error) {
	return nil, f.getErr
}

func TestRun_TrackerGetErrorIsRecordedAsFailure(t *testing.T) {
	tracker := &faultyTracker{
		MemoryTracker: store.NewMemoryTracker(),
		getErr:        errors.New("disk I/O error"),
	}
	gw := platform.NewMemoryGateway()

	services := []descriptor.Service{{Name: "db", Health: fastHealth(3)}}
	report, err := newTestOrchestrator(tracker, gw, Config{}).Run(context.Background(), services)
	assert.ErrorIs(t, err, ErrRunFailed)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].DeployAttempts)
	assert.Contains(t, failed[0].Error, "disk I/O error")

	// The failure is persisted, not just reported.
	records, listErr := tracker.List(context.Background())
	require.NoError(t, listErr)
	require.Len(t, records, 1)
	assert.Equal(t, domain.PhaseFailed, records[0].Phase)
	assert.Contains(t, records[0].LastError, "disk I/O error")
}

// =============================================================================
// --only Tests
// =============================================================================

func TestRun_OnlyDeploysTargetAndDependencies(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()

	services := append(dbAndAPI(), descriptor.Service{
		Name:   "worker",
		Source: "github.com/acme/worker",
		Health: fastHealth(3),
	})

	_, err := newTestOrchestrator(tracker, gw, Config{Only: "api"}).Run(context.Background(), services)
	require.NoError(t, err)

	assert.True(t, gw.Deployed("db"))
	assert.True(t, gw.Deployed("api"))
	assert.False(t, gw.Deployed("worker"))
}

func TestRun_OnlySkipsAlreadyHealthyDependency(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()
	services := dbAndAPI()

	// Deploy just the database first.
	_, err := newTestOrchestrator(tracker, gw, Config{Only: "db"}).Run(
		context.Background(), services)
	require.NoError(t, err)
	require.Equal(t, 1, gw.DeployCalls())

	// Targeting api must reuse the healthy db record instead of redeploying.
	_, err = newTestOrchestrator(tracker, gw, Config{Only: "api"}).Run(
		context.Background(), services)
	require.NoError(t, err)
	assert.Equal(t, 2, gw.DeployCalls())
}

func TestRun_OnlyUnknownTarget(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()

	_, err := newTestOrchestrator(tracker, gw, Config{Only: "ghost"}).Run(
		context.Background(), dbAndAPI())
	assert.ErrorIs(t, err, ErrUnknownOnlyTarget)
	assert.Zero(t, gw.DeployCalls())
}

// =============================================================================
// Cancellation Tests
// =============================================================================

func TestRun_CancelledBeforeStart(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestOrchestrator(tracker, gw, Config{}).Run(ctx, dbAndAPI())
	assert.ErrorIs(t, err, ErrRunCancelled)
	require.NotNil(t, report)
	assert.True(t, report.Cancelled)
	assert.Zero(t, gw.DeployCalls())
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestRun_WideWaveDeploysAllMembers(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()

	services := []descriptor.Service{{Name: "db", Health: fastHealth(3)}}
	for _, name := range []string{"api", "worker", "scheduler", "mailer"} {
		services = append(services, descriptor.Service{
			Name:      name,
			DependsOn: []string{"db"},
			Config:    map[string]string{"DB_URL": "${{db.address}}"},
			Health:    fastHealth(3),
		})
	}

	report, err := newTestOrchestrator(tracker, gw, Config{Concurrency: 2}).Run(
		context.Background(), services)
	require.NoError(t, err)
	require.Len(t, report.Waves, 2)
	assert.Len(t, report.Waves[1].Services, 4)
	assert.Equal(t, 5, gw.DeployCalls())

	for _, name := range []string{"api", "worker", "scheduler", "mailer"} {
		assert.Equal(t, "db.internal", gw.DeployedEnv(name)["DB_URL"])
	}
}

// =============================================================================
// Wave Failure Isolation
// =============================================================================

func TestRun_SiblingFailureDoesNotAbortWaveMembers(t *testing.T) {
	tracker := store.NewMemoryTracker()
	gw := platform.NewMemoryGateway()
	gw.SetHealthSequence("worker", platform.HealthFail)

	services := []descriptor.Service{
		{Name: "api", Health: fastHealth(2)},
		{Name: "worker", Health: fastHealth(2)},
	}

	report, err := newTestOrchestrator(tracker, gw, Config{}).Run(context.Background(), services)
	assert.ErrorIs(t, err, ErrRunFailed)

	// api finished its own deployment even though its sibling failed.
	rec, err := tracker.Get(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseHealthy, rec.Phase)

	require.Len(t, report.Waves, 1)
	assert.False(t, report.Waves[0].Completed)
}
