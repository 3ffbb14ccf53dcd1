package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceStartStopIdempotent(t *testing.T) {
	inst := NewInstance(TypeSecurityAuditor, DefaultConfig(), Hooks{}, nil, nil)
	require.Equal(t, StateUninitialized, inst.State())

	require.NoError(t, inst.Start(context.Background()))
	require.Equal(t, StateRunning, inst.State())
	require.True(t, inst.Health().IsHealthy)

	// Double start is a no-op from the caller's perspective.
	require.NoError(t, inst.Start(context.Background()))
	require.Equal(t, StateRunning, inst.State())

	require.NoError(t, inst.Stop(context.Background()))
	require.Equal(t, StateStopped, inst.State())

	// Double stop is a no-op.
	require.NoError(t, inst.Stop(context.Background()))
	require.Equal(t, StateStopped, inst.State())
}

func TestInstancePauseResume(t *testing.T) {
	inst := NewInstance(TypeCompiler, DefaultConfig(), Hooks{}, nil, nil)
	require.Error(t, inst.Pause(), "cannot pause before running")

	require.NoError(t, inst.Start(context.Background()))
	require.NoError(t, inst.Pause())
	require.Equal(t, StatePaused, inst.State())
	require.True(t, inst.Health().IsHealthy)

	require.NoError(t, inst.Resume())
	require.Equal(t, StateRunning, inst.State())

	require.Error(t, inst.Resume(), "cannot resume a running agent")
}

func TestInstanceUpdateConfigRoundTrip(t *testing.T) {
	inst := NewInstance(TypeDeployment, DefaultConfig(), Hooks{}, nil, nil)
	cfg := DefaultConfig()
	cfg.MaxRetries = 9
	cfg.Custom["k"] = "v"

	inst.UpdateConfig(cfg)
	got := inst.GetConfig()
	assert.Equal(t, 9, got.MaxRetries)
	assert.Equal(t, "v", got.Custom["k"])
}

func TestInstanceStartFailureEntersErrorState(t *testing.T) {
	hooks := Hooks{OnStart: func(ctx context.Context) error { return errors.New("boom") }}
	inst := NewInstance(TypeContractGenerator, DefaultConfig(), hooks, nil, nil)

	err := inst.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, StateError, inst.State())
	assert.Equal(t, "boom", inst.Health().Error)
}

func TestInstanceRecordTaskStats(t *testing.T) {
	inst := NewInstance(TypeRequirementsParser, DefaultConfig(), Hooks{}, nil, nil)
	inst.RecordTaskSuccess(10 * time.Millisecond)
	inst.RecordTaskSuccess(20 * time.Millisecond)
	inst.RecordTaskFailure()

	h := inst.Health()
	assert.EqualValues(t, 2, h.TasksProcessed)
	assert.EqualValues(t, 1, h.TasksFailed)
	assert.Equal(t, 15*time.Millisecond, h.AvgResponseTime)
}

func TestInstanceResponseWindowEvictsOldest(t *testing.T) {
	inst := NewInstance(TypeRequirementsParser, DefaultConfig(), Hooks{}, nil, nil)
	for i := 0; i < maxResponseTimes+10; i++ {
		inst.RecordTaskSuccess(time.Duration(i) * time.Millisecond)
	}
	assert.Len(t, inst.responseTimes, maxResponseTimes)
}

func TestInstanceRestartRecoversFromError(t *testing.T) {
	failOnce := true
	hooks := Hooks{
		OnStart: func(ctx context.Context) error {
			if failOnce {
				failOnce = false
				return errors.New("transient")
			}
			return nil
		},
	}
	inst := NewInstance(TypeSecurityAuditor, Config{
		Enabled: true, HealthCheckInterval: time.Second, MaxRetries: 3,
		RestartDelay: 5 * time.Millisecond, Timeout: time.Second, Custom: map[string]string{},
	}, hooks, nil, nil)

	require.Error(t, inst.Start(context.Background()))
	require.Equal(t, StateError, inst.State())

	require.NoError(t, inst.Restart(context.Background()))
	require.Equal(t, StateRunning, inst.State())
}
