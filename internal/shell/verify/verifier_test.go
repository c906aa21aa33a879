package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/flotilla/internal/core/descriptor"
	"github.com/artpar/flotilla/internal/shell/platform"
)

// =============================================================================
// Test Helpers
// =============================================================================

func fastSpec(maxAttempts int) descriptor.HealthSpec {
	return descriptor.HealthSpec{
		Path:        "/health",
		Interval:    time.Millisecond,
		Timeout:     time.Second,
		MaxAttempts: maxAttempts,
	}
}

func deployedService(t *testing.T, gw *platform.MemoryGateway, name string) platform.Handle {
	t.Helper()
	h, err := gw.Deploy(context.Background(), platform.DeployRequest{Name: name})
	require.NoError(t, err)
	return h
}

// =============================================================================
// Verify Tests
// =============================================================================

func TestVerify_ImmediatePass(t *testing.T) {
	gw := platform.NewMemoryGateway()
	h := deployedService(t, gw, "db")

	res := New(gw, nil).Verify(context.Background(), h, fastSpec(3))
	assert.True(t, res.Healthy)
	assert.Zero(t, res.Attempts)
	assert.Equal(t, platform.HealthPass, res.LastHealth)
}

func TestVerify_PassAfterFailures(t *testing.T) {
	gw := platform.NewMemoryGateway()
	h := deployedService(t, gw, "db")
	gw.SetHealthSequence("db", platform.HealthFail, platform.HealthFail, platform.HealthPass)

	res := New(gw, nil).Verify(context.Background(), h, fastSpec(5))
	assert.True(t, res.Healthy)
	assert.Equal(t, 2, res.Attempts)
}

func TestVerify_AttemptsExhausted(t *testing.T) {
	gw := platform.NewMemoryGateway()
	h := deployedService(t, gw, "db")
	gw.SetHealthSequence("db", platform.HealthFail)

	res := New(gw, nil).Verify(context.Background(), h, fastSpec(3))
	assert.False(t, res.Healthy)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, platform.HealthFail, res.LastHealth)
}

func TestVerify_UnreachableDoesNotConsumeAttempts(t *testing.T) {
	gw := platform.NewMemoryGateway()
	h := deployedService(t, gw, "db")
	gw.SetHealthSequence("db",
		platform.HealthUnreachable,
		platform.HealthUnreachable,
		platform.HealthUnreachable,
		platform.HealthUnreachable,
		platform.HealthPass,
	)

	// MaxAttempts of 1 would be exhausted by a single failing response; four
	// unreachable probes before the pass must not count against it.
	res := New(gw, nil).Verify(context.Background(), h, fastSpec(1))
	assert.True(t, res.Healthy)
	assert.Zero(t, res.Attempts)
}

func TestVerify_UnreachableBoundedByTimeout(t *testing.T) {
	gw := platform.NewMemoryGateway()
	h := deployedService(t, gw, "db")
	gw.SetHealthSequence("db", platform.HealthUnreachable)

	spec := fastSpec(3)
	spec.Timeout = 20 * time.Millisecond

	res := New(gw, nil).Verify(context.Background(), h, spec)
	assert.False(t, res.Healthy)
	assert.Zero(t, res.Attempts)
	assert.Equal(t, platform.HealthUnreachable, res.LastHealth)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestVerify_CrashedStatusShortCircuits(t *testing.T) {
	gw := platform.NewMemoryGateway()
	h := deployedService(t, gw, "db")
	gw.SetHealthSequence("db", platform.HealthFail)
	gw.SetStatus("db", platform.StatusCrashed)

	res := New(gw, nil).Verify(context.Background(), h, fastSpec(100))
	assert.False(t, res.Healthy)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, platform.StatusCrashed, res.LastStatus)
}

func TestVerify_ContextCancelled(t *testing.T) {
	gw := platform.NewMemoryGateway()
	h := deployedService(t, gw, "db")
	gw.SetHealthSequence("db", platform.HealthFail)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(gw, nil).Verify(ctx, h, fastSpec(100))
	assert.False(t, res.Healthy)
	assert.ErrorIs(t, res.Err, context.Canceled)
}
