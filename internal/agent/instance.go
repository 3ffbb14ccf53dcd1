package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/eventbus"
	"github.com/kandev/agentcore/internal/platform/apperr"
	"github.com/kandev/agentcore/internal/platform/logger"
)

// EventPublisher is the subset of eventbus.Bus an Instance needs to
// announce its own lifecycle transitions. Kept as an interface so the
// agent package never holds a lock across an EventBus call — it copies
// the snapshot out, releases its own lock, then publishes.
type EventPublisher interface {
	Publish(ctx context.Context, eventType eventbus.EventType, sourceID string, data map[string]interface{}) (*eventbus.Event, error)
}

// Hooks are the pluggable do_start/do_stop bodies a concrete worker
// supplies. The zero value hooks succeed immediately, modeling an
// in-process agent with no external process to spawn.
type Hooks struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (h Hooks) start(ctx context.Context) error {
	if h.OnStart == nil {
		return nil
	}
	return h.OnStart(ctx)
}

func (h Hooks) stop(ctx context.Context) error {
	if h.OnStop == nil {
		return nil
	}
	return h.OnStop(ctx)
}

// Instance represents exactly one worker agent: a disciplined FSM plus
// task statistics, guarded by a single per-instance mutex so state
// transitions never interleave.
type Instance struct {
	id        string
	agentType Type
	hooks     Hooks
	events    EventPublisher
	log       *logger.Logger

	mu            sync.Mutex
	state         State
	errorReason   string
	config        Config
	startedAt     *time.Time
	tasksOK       int64
	tasksFailed   int64
	responseTimes []time.Duration
	resourceUsage ResourceUsage
	lastCheck     time.Time

	healthStop context.CancelFunc
	healthDone chan struct{}
}

// NewInstance constructs an Instance in the Uninitialized state.
func NewInstance(agentType Type, cfg Config, hooks Hooks, events EventPublisher, log *logger.Logger) *Instance {
	if log == nil {
		log = logger.Default()
	}
	return &Instance{
		id:        uuid.New().String(),
		agentType: agentType,
		hooks:     hooks,
		events:    events,
		log:       log.WithAgentID("").With(zap.String("agent_type", string(agentType))),
		state:     StateUninitialized,
		config:    cfg,
		lastCheck: time.Now(),
	}
}

// ID returns the instance's opaque identifier.
func (i *Instance) ID() string { return i.id }

// Type returns the agent's fixed type.
func (i *Instance) Type() Type { return i.agentType }

func (i *Instance) publish(eventType eventbus.EventType, data map[string]interface{}) {
	if i.events == nil {
		return
	}
	if _, err := i.events.Publish(context.Background(), eventType, i.id, data); err != nil {
		i.log.Warn("failed to publish agent event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

// Start transitions Uninitialized|Stopped|Error -> Starting -> Running,
// spawning the health-check task on success. It is idempotent when
// already Running or Starting.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	switch i.state {
	case StateRunning, StateStarting:
		i.mu.Unlock()
		return nil
	case StateUninitialized, StateStopped, StateError, StateRestarting:
		// allowed
	default:
		s := i.state
		i.mu.Unlock()
		return apperr.InvalidState("cannot start agent %s from state %s", i.id, s)
	}
	i.state = StateStarting
	i.mu.Unlock()

	if err := i.hooks.start(ctx); err != nil {
		i.mu.Lock()
		i.state = StateError
		i.errorReason = err.Error()
		i.mu.Unlock()
		i.publish(eventbus.EventAgentError, map[string]interface{}{"reason": err.Error()})
		return apperr.Internal("agent start failed", err)
	}

	now := time.Now()
	i.mu.Lock()
	i.state = StateRunning
	i.startedAt = &now
	i.errorReason = ""
	i.mu.Unlock()

	i.startHealthCheck()
	i.publish(eventbus.EventAgentStarted, map[string]interface{}{"started_at": now})
	return nil
}

// Stop transitions Running|Paused|Error -> Stopping -> Stopped,
// cancelling the health-check task. Idempotent when already Stopping or
// Stopped.
func (i *Instance) Stop(ctx context.Context) error {
	i.mu.Lock()
	switch i.state {
	case StateStopping, StateStopped:
		i.mu.Unlock()
		return nil
	case StateRunning, StatePaused, StateError, StateRestarting:
		// allowed
	default:
		s := i.state
		i.mu.Unlock()
		return apperr.InvalidState("cannot stop agent %s from state %s", i.id, s)
	}
	i.state = StateStopping
	i.mu.Unlock()

	i.stopHealthCheck()

	if err := i.hooks.stop(ctx); err != nil {
		i.mu.Lock()
		i.state = StateError
		i.errorReason = err.Error()
		i.startedAt = nil
		i.mu.Unlock()
		i.publish(eventbus.EventAgentError, map[string]interface{}{"reason": err.Error()})
		return apperr.Internal("agent stop failed", err)
	}

	i.mu.Lock()
	i.state = StateStopped
	i.startedAt = nil
	i.mu.Unlock()

	i.publish(eventbus.EventAgentStopped, map[string]interface{}{})
	return nil
}

// Pause flips Running -> Paused. Any other source state is InvalidState.
func (i *Instance) Pause() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateRunning {
		return apperr.InvalidState("cannot pause agent %s from state %s", i.id, i.state)
	}
	i.state = StatePaused
	return nil
}

// Resume flips Paused -> Running. Any other source state is InvalidState.
func (i *Instance) Resume() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StatePaused {
		return apperr.InvalidState("cannot resume agent %s from state %s", i.id, i.state)
	}
	i.state = StateRunning
	return nil
}

// Restart drives Restarting -> stop -> sleep(restart_delay) -> start. If
// either sub-step fails the instance ends in Error (set by Start/Stop
// themselves).
func (i *Instance) Restart(ctx context.Context) error {
	i.mu.Lock()
	i.state = StateRestarting
	delay := i.config.RestartDelay
	i.mu.Unlock()

	if err := i.Stop(ctx); err != nil {
		return err
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return apperr.Cancelled("restart of agent %s cancelled during delay", i.id)
	}

	return i.Start(ctx)
}

// UpdateConfig replaces the config under the instance lock without
// interrupting running work.
func (i *Instance) UpdateConfig(cfg Config) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.config = cfg
}

// GetConfig returns a copy of the current config.
func (i *Instance) GetConfig() Config {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.config
}

// SetResourceUsage records the latest out-of-band resource sample.
func (i *Instance) SetResourceUsage(u ResourceUsage) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.resourceUsage = u
}

// RecordTaskSuccess updates counters and the rolling response-time
// window, evicting the oldest entry past capacity.
func (i *Instance) RecordTaskSuccess(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tasksOK++
	i.responseTimes = append(i.responseTimes, d)
	if len(i.responseTimes) > maxResponseTimes {
		i.responseTimes = i.responseTimes[len(i.responseTimes)-maxResponseTimes:]
	}
}

// RecordTaskFailure increments the failure counter.
func (i *Instance) RecordTaskFailure() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tasksFailed++
}

// Health returns a point-in-time snapshot of the instance.
func (i *Instance) Health() Health {
	i.mu.Lock()
	defer i.mu.Unlock()

	var uptime time.Duration
	if i.startedAt != nil {
		uptime = time.Since(*i.startedAt)
	}

	var avg time.Duration
	if n := len(i.responseTimes); n > 0 {
		var sum time.Duration
		for _, d := range i.responseTimes {
			sum += d
		}
		avg = sum / time.Duration(n)
	}

	return Health{
		ID:              i.id,
		Type:            i.agentType,
		State:           i.state,
		IsHealthy:       i.state.IsHealthy(),
		LastCheck:       i.lastCheck,
		StartedAt:       i.startedAt,
		Uptime:          uptime,
		TasksProcessed:  i.tasksOK,
		TasksFailed:     i.tasksFailed,
		AvgResponseTime: avg,
		Error:           i.errorReason,
		ResourceUsage:   i.resourceUsage,
	}
}

// State returns the current FSM state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// startHealthCheck spawns the per-instance background task. It
// re-reads the configured interval on every tick so a hot config
// update takes effect without a restart.
func (i *Instance) startHealthCheck() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	i.mu.Lock()
	i.healthStop = cancel
	i.healthDone = done
	i.mu.Unlock()

	go func() {
		defer close(done)
		for {
			i.mu.Lock()
			interval := i.config.HealthCheckInterval
			i.mu.Unlock()
			if interval <= 0 {
				interval = DefaultConfig().HealthCheckInterval
			}

			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			i.mu.Lock()
			if !i.state.IsHealthy() {
				i.mu.Unlock()
				return
			}
			i.lastCheck = time.Now()
			i.mu.Unlock()
		}
	}()
}

// stopHealthCheck cancels and waits for the background task to exit.
func (i *Instance) stopHealthCheck() {
	i.mu.Lock()
	stop := i.healthStop
	done := i.healthDone
	i.healthStop = nil
	i.healthDone = nil
	i.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	if done != nil {
		<-done
	}
}
