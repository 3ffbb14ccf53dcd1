package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentcore/internal/eventbus"
)

func TestRegistryRegisterIndexesAtomically(t *testing.T) {
	reg := NewRegistry(nil, nil, nil)
	inst := reg.Register(TypeCompiler, DefaultConfig())

	got, err := reg.Get(inst.ID())
	require.NoError(t, err)
	assert.Same(t, inst, got)

	byType := reg.ByType(TypeCompiler)
	require.Len(t, byType, 1)
	assert.Same(t, inst, byType[0])

	assert.Equal(t, 1, reg.Count())
	assert.Equal(t, 1, reg.CountByType(TypeCompiler))
	assert.Equal(t, 0, reg.CountByType(TypeDeployment))
}

func TestRegistryUnregisterUnknownID(t *testing.T) {
	reg := NewRegistry(nil, nil, nil)
	err := reg.Unregister(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestRegistryUnregisterStopsThenRemoves(t *testing.T) {
	reg := NewRegistry(nil, nil, nil)
	inst := reg.Register(TypeCompiler, DefaultConfig())
	require.NoError(t, inst.Start(context.Background()))

	require.NoError(t, reg.Unregister(context.Background(), inst.ID()))
	assert.Equal(t, StateStopped, inst.State())

	_, err := reg.Get(inst.ID())
	assert.Error(t, err)
	assert.Equal(t, 0, reg.Count())
}

func TestRegistryUnregisterAlreadyStoppedSucceeds(t *testing.T) {
	reg := NewRegistry(nil, nil, nil)
	inst := reg.Register(TypeCompiler, DefaultConfig())
	// Never started: Stop() on an Uninitialized instance is InvalidState,
	// which Unregister tolerates rather than failing the whole call.
	require.NoError(t, reg.Unregister(context.Background(), inst.ID()))
}

func TestRegistryStartAllStopAllContinuesOnFailure(t *testing.T) {
	hooksFor := map[Type]Hooks{
		TypeCompiler: {OnStart: func(ctx context.Context) error { return errors.New("always fails") }},
	}
	reg := NewRegistry(nil, hooksFor, nil)

	good1 := reg.Register(TypeDeployment, DefaultConfig())
	bad := reg.Register(TypeCompiler, DefaultConfig())
	good2 := reg.Register(TypeDeployment, DefaultConfig())

	results := reg.StartAll(context.Background())
	require.Len(t, results, 3)
	assert.NoError(t, results[good1.ID()])
	assert.NoError(t, results[good2.ID()])
	assert.Error(t, results[bad.ID()])

	assert.Equal(t, StateRunning, good1.State())
	assert.Equal(t, StateRunning, good2.State())
	assert.Equal(t, StateError, bad.State())

	stopResults := reg.StopAll(context.Background())
	assert.NoError(t, stopResults[good1.ID()])
	assert.NoError(t, stopResults[good2.ID()])
	// bad is in Error; Stop from Error is allowed and should succeed
	// since its OnStop hook is unset.
	assert.NoError(t, stopResults[bad.ID()])
}

func TestRegistryHealthAllAndByType(t *testing.T) {
	reg := NewRegistry(nil, nil, nil)
	a := reg.Register(TypeCompiler, DefaultConfig())
	b := reg.Register(TypeDeployment, DefaultConfig())
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	all := reg.HealthAll()
	assert.Len(t, all, 2)

	onlyCompiler := reg.HealthByType(TypeCompiler)
	require.Len(t, onlyCompiler, 1)
	assert.Equal(t, a.ID(), onlyCompiler[0].ID)
}

func TestRegistryUpdateConfig(t *testing.T) {
	reg := NewRegistry(nil, nil, nil)
	inst := reg.Register(TypeCompiler, DefaultConfig())

	cfg := DefaultConfig()
	cfg.MaxRetries = 42
	require.NoError(t, reg.UpdateConfig(inst.ID(), cfg))
	assert.Equal(t, 42, inst.GetConfig().MaxRetries)

	err := reg.UpdateConfig("unknown", cfg)
	assert.Error(t, err)
}

func TestRegistryRunningByType(t *testing.T) {
	reg := NewRegistry(nil, nil, nil)
	a := reg.Register(TypeCompiler, DefaultConfig())
	reg.Register(TypeCompiler, DefaultConfig()) // left stopped

	require.NoError(t, a.Start(context.Background()))

	running := reg.RunningByType(TypeCompiler)
	require.Len(t, running, 1)
	assert.Equal(t, a.ID(), running[0].ID())
}

func TestRegistryRestartOnErrorRecoversWithinRestartDelay(t *testing.T) {
	events := eventbus.New(eventbus.DefaultConfig(), nil)

	var stopFailed int32
	hooks := map[Type]Hooks{
		TypeSecurityAuditor: {
			OnStop: func(ctx context.Context) error {
				if atomic.CompareAndSwapInt32(&stopFailed, 0, 1) {
					return errors.New("stop failed once")
				}
				return nil
			},
		},
	}
	reg := NewRegistry(events, hooks, nil)

	restartDelay := 20 * time.Millisecond
	cfg := DefaultConfig()
	cfg.RestartDelay = restartDelay
	inst := reg.Register(TypeSecurityAuditor, cfg)

	require.NoError(t, inst.Start(context.Background()))
	require.Equal(t, StateRunning, inst.State())

	// Force the agent into Error: the configured OnStop hook fails its
	// first invocation, so stopping a Running instance lands in Error.
	require.Error(t, inst.Stop(context.Background()))
	require.Equal(t, StateError, inst.State())

	start := time.Now()
	require.NoError(t, reg.Restart(context.Background(), inst.ID()))
	elapsed := time.Since(start)

	assert.Equal(t, StateRunning, inst.State())
	assert.GreaterOrEqual(t, elapsed, restartDelay)
	assert.Less(t, elapsed, restartDelay+500*time.Millisecond)

	var seen []eventbus.EventType
	for _, ev := range events.GetHistory(100) {
		if ev.SourceID == inst.ID() {
			seen = append(seen, ev.Type)
		}
	}
	// GetHistory returns most-recent-first; reverse to chronological order.
	for i, j := 0, len(seen)-1; i < j; i, j = i+1, j-1 {
		seen[i], seen[j] = seen[j], seen[i]
	}
	assert.Equal(t, []eventbus.EventType{
		eventbus.EventAgentStarted,
		eventbus.EventAgentError,
		eventbus.EventAgentStopped,
		eventbus.EventAgentStarted,
	}, seen)
}
