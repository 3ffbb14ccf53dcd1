package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/agent"
	"github.com/kandev/agentcore/internal/eventbus"
	"github.com/kandev/agentcore/internal/messaging"
	"github.com/kandev/agentcore/internal/platform/apperr"
	"github.com/kandev/agentcore/internal/platform/logger"
	"github.com/kandev/agentcore/internal/platform/tracing"
)

// taskState is the orchestrator's private bookkeeping for one
// submitted pipeline run.
type taskState struct {
	id         string
	spec       Spec
	enqueuedAt time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}

	finishOnce sync.Once
	done       chan struct{}

	mu        sync.Mutex
	cancelled bool
	outcome   Outcome
}

func (ts *taskState) isCancelled() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.cancelled
}

func (ts *taskState) markCancelled() {
	ts.mu.Lock()
	ts.cancelled = true
	ts.mu.Unlock()
}

// Orchestrator owns the stage pipeline: a FIFO submission queue bounded
// by a concurrency limit, round-robin agent dispatch per stage, and
// bounded exponential-backoff retry, grounded on the teacher's
// scheduler.processLoop/processTasks dequeue-while-capacity idiom.
type Orchestrator struct {
	cfg      Config
	registry *agent.Registry
	bus      *messaging.Bus
	events   *eventbus.Bus
	handlers map[agent.Type]Handler
	log      *logger.Logger
	tracer   trace.Tracer

	mu         sync.Mutex
	queue      []*taskState
	byID       map[string]*taskState
	inFlight   int
	rrCounters map[agent.Type]uint64

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Orchestrator and starts its dispatcher loop.
// handlers must carry an entry for every agent.Type that appears as a
// pipeline stage; a stage whose type has no handler fails immediately
// with an Internal error.
func New(cfg Config, registry *agent.Registry, bus *messaging.Bus, events *eventbus.Bus, handlers map[agent.Type]Handler, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 10
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 5 * time.Second
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.DispatchPollInterval <= 0 {
		cfg.DispatchPollInterval = 20 * time.Millisecond
	}
	if cfg.QueuePollInterval <= 0 {
		cfg.QueuePollInterval = 10 * time.Millisecond
	}
	if handlers == nil {
		handlers = map[agent.Type]Handler{}
	}

	o := &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		bus:        bus,
		events:     events,
		handlers:   handlers,
		log:        log.With(zap.String("component", "orchestrator")),
		tracer:     tracing.Tracer("agentcore.orchestrator"),
		byID:       make(map[string]*taskState),
		rrCounters: make(map[agent.Type]uint64),
		wakeCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
	o.wg.Add(1)
	go o.dispatcherLoop()
	return o
}

// Submit enqueues spec and returns its task id immediately.
func (o *Orchestrator) Submit(spec Spec) (string, error) {
	if len(spec.Stages) == 0 {
		return "", apperr.Internal("pipeline must name at least one stage", nil)
	}
	if spec.SubmitTimeout <= 0 {
		spec.SubmitTimeout = o.cfg.SubmitTimeout
	}
	if spec.StageTimeout <= 0 {
		spec.StageTimeout = o.cfg.StageTimeout
	}
	if spec.DispatchTimeout <= 0 {
		spec.DispatchTimeout = o.cfg.DispatchTimeout
	}
	if spec.MaxRetries <= 0 {
		spec.MaxRetries = o.cfg.MaxRetries
	}

	id := uuid.New().String()
	ts := &taskState{
		id:         id,
		spec:       spec,
		enqueuedAt: time.Now(),
		cancelCh:   make(chan struct{}),
		done:       make(chan struct{}),
	}

	o.mu.Lock()
	o.byID[id] = ts
	o.queue = append(o.queue, ts)
	o.mu.Unlock()

	o.publish(eventbus.EventTaskSubmitted, id, map[string]interface{}{"task_id": id, "stages": len(spec.Stages)})
	o.wake()
	return id, nil
}

// Cancel marks taskID cancelled. Any stage dispatch not yet past its
// pre-dispatch cancellation check is dropped.
func (o *Orchestrator) Cancel(taskID string) error {
	o.mu.Lock()
	ts, ok := o.byID[taskID]
	o.mu.Unlock()
	if !ok {
		return apperr.NotFound("task", taskID)
	}

	ts.cancelOnce.Do(func() {
		ts.markCancelled()
		close(ts.cancelCh)
	})
	o.publish(eventbus.EventTaskCancelled, taskID, map[string]interface{}{"task_id": taskID})
	return nil
}

// AwaitResult cooperatively waits up to timeout for taskID to reach a
// terminal state. If the wait itself elapses first the task keeps
// running and a later AwaitResult call may observe its real outcome.
func (o *Orchestrator) AwaitResult(ctx context.Context, taskID string, timeout time.Duration) (Outcome, error) {
	o.mu.Lock()
	ts, ok := o.byID[taskID]
	o.mu.Unlock()
	if !ok {
		return Outcome{}, apperr.NotFound("task", taskID)
	}

	select {
	case <-ts.done:
		return ts.outcome, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ts.done:
		return ts.outcome, nil
	case <-ctx.Done():
		return Outcome{Kind: KindTimedOut}, nil
	case <-timer.C:
		return Outcome{Kind: KindTimedOut}, nil
	}
}

// Close stops the dispatcher loop and waits for in-flight pipelines.
func (o *Orchestrator) Close() {
	close(o.stopCh)
	o.wg.Wait()
}

func (o *Orchestrator) wake() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) finish(ts *taskState, outcome Outcome) {
	ts.finishOnce.Do(func() {
		ts.outcome = outcome
		close(ts.done)
	})
}

func (o *Orchestrator) publish(eventType eventbus.EventType, sourceID string, data map[string]interface{}) {
	if o.events == nil {
		return
	}
	if _, err := o.events.Publish(context.Background(), eventType, sourceID, data); err != nil {
		o.log.Warn("failed to publish event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func (o *Orchestrator) dispatcherLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.QueuePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.tryDispatch()
		case <-o.wakeCh:
			o.tryDispatch()
		}
	}
}

// tryDispatch drains the queue while capacity allows, dropping
// cancelled and submit-timed-out tasks without counting them against
// concurrency. A cancelled or timed-out task at the head of the queue is
// dropped even while every slot is taken.
func (o *Orchestrator) tryDispatch() {
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		ts := o.queue[0]
		cancelled := ts.isCancelled()
		timedOut := time.Since(ts.enqueuedAt) > ts.spec.SubmitTimeout
		if !cancelled && !timedOut && o.inFlight >= o.cfg.MaxConcurrentTasks {
			o.mu.Unlock()
			return
		}
		o.queue = o.queue[1:]
		if !cancelled && !timedOut {
			o.inFlight++
		}
		o.mu.Unlock()

		if cancelled {
			o.finish(ts, Outcome{Kind: KindCancelled})
			continue
		}
		if timedOut {
			o.finish(ts, Outcome{Kind: KindFailed, Reason: "submit timeout exceeded before stage 0"})
			continue
		}

		o.wg.Add(1)
		go o.runPipeline(ts)
	}
}

func (o *Orchestrator) runPipeline(ts *taskState) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		o.inFlight--
		o.mu.Unlock()
		o.wake()
	}()

	artifact := ts.spec.Payload
	for stageIdx, agentType := range ts.spec.Stages {
		if ts.isCancelled() {
			o.finish(ts, Outcome{Kind: KindCancelled})
			return
		}

		result, err := o.runStage(ts, stageIdx, agentType, artifact)
		if err != nil {
			if apperr.Is(err, apperr.CodeCancelled) {
				o.finish(ts, Outcome{Kind: KindCancelled})
			} else {
				o.finish(ts, Outcome{Kind: KindFailed, Reason: err.Error()})
			}
			return
		}
		artifact = result
	}
	o.finish(ts, Outcome{Kind: KindCompleted, Artifact: artifact})
}

// runStage applies the stage retry policy: bounded exponential backoff
// (BaseBackoff before the first retry, doubling before each further
// retry) on Timeout/AgentFailed/NoAgentAvailable, up to
// spec.MaxRetries retries beyond the first attempt.
func (o *Orchestrator) runStage(ts *taskState, stageIdx int, agentType agent.Type, payload interface{}) (interface{}, error) {
	handler, ok := o.handlers[agentType]
	if !ok {
		return nil, apperr.Internal(fmt.Sprintf("no task handler registered for agent type %q", agentType), nil)
	}

	var lastErr error
	for attempt := 0; attempt <= ts.spec.MaxRetries; attempt++ {
		if ts.isCancelled() {
			return nil, apperr.Cancelled("task %s cancelled", ts.id)
		}

		if attempt > 0 {
			backoff := o.cfg.BaseBackoff * time.Duration(uint64(1)<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ts.cancelCh:
				return nil, apperr.Cancelled("task %s cancelled", ts.id)
			}
			if ts.isCancelled() {
				return nil, apperr.Cancelled("task %s cancelled", ts.id)
			}
		}

		result, err := o.dispatchStage(ts, stageIdx, agentType, handler, payload, attempt)
		if err == nil {
			return result, nil
		}
		if apperr.Is(err, apperr.CodeCancelled) {
			return nil, err
		}
		lastErr = err
	}
	return nil, apperr.AgentFailed(fmt.Sprintf("stage %d exhausted retries: %v", stageIdx, lastErr))
}

type stageResult struct {
	out interface{}
	err error
}

// dispatchStage performs one attempt of the stage transition protocol:
// pick an agent, publish TaskStarted, send the TaskRequest, run the
// handler concurrently, and wait for its ack through the real
// MessageBus poll loop.
func (o *Orchestrator) dispatchStage(ts *taskState, stageIdx int, agentType agent.Type, handler Handler, payload interface{}, attempt int) (interface{}, error) {
	spanCtx, span := o.tracer.Start(context.Background(), "agentcore.stage", trace.WithAttributes(
		attribute.String("task_id", ts.id),
		attribute.Int("stage_index", stageIdx),
		attribute.String("agent_type", string(agentType)),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	out, err := o.dispatchStageTraced(spanCtx, ts, stageIdx, agentType, handler, payload, attempt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (o *Orchestrator) dispatchStageTraced(spanCtx context.Context, ts *taskState, stageIdx int, agentType agent.Type, handler Handler, payload interface{}, attempt int) (interface{}, error) {
	inst, err := o.pickAgent(ts, agentType)
	if err != nil {
		o.publishTaskFailed(ts.id, stageIdx, attempt, err.Error())
		return nil, err
	}

	msg := messaging.NewMessage(messaging.TypeTaskRequest, "orchestrator", payload).
		WithReceiver(inst.ID()).
		WithPriority(ts.spec.Priority).
		WithRequiresAck(true).
		WithExpiresAt(time.Now().Add(ts.spec.StageTimeout)).
		WithCorrelationID(ts.id)

	o.publish(eventbus.EventTaskStarted, ts.id, map[string]interface{}{
		"task_id": ts.id, "stage": stageIdx, "attempt": attempt, "agent_id": inst.ID(),
	})

	if err := o.bus.Send(msg); err != nil {
		inst.RecordTaskFailure()
		o.publishTaskFailed(ts.id, stageIdx, attempt, err.Error())
		return nil, apperr.AgentFailed(fmt.Sprintf("send task request: %v", err))
	}

	stageCtx, cancel := context.WithTimeout(spanCtx, ts.spec.StageTimeout)
	defer cancel()

	resultCh := make(chan stageResult, 1)
	start := time.Now()
	go func() {
		out, herr := handler(stageCtx, &StageTask{
			TaskID: ts.id, Stage: stageIdx, AgentType: agentType, AgentID: inst.ID(), Attempt: attempt, Payload: payload,
		})
		resultCh <- stageResult{out: out, err: herr}

		success := herr == nil
		errMsg := ""
		if herr != nil {
			errMsg = herr.Error()
		}
		o.bus.Acknowledge(msg.ID, inst.ID(), success, errMsg)

		resp := messaging.NewMessage(messaging.TypeTaskResponse, inst.ID(), out).WithCorrelationID(ts.id)
		_ = o.bus.Send(resp)
	}()

	_, waitErr := o.bus.WaitForAck(stageCtx, msg.ID, ts.spec.StageTimeout)
	if waitErr != nil {
		inst.RecordTaskFailure()
		o.publishTaskFailed(ts.id, stageIdx, attempt, waitErr.Error())
		return nil, apperr.Timeout("stage %d timed out waiting for agent %s: %v", stageIdx, inst.ID(), waitErr)
	}

	res := <-resultCh
	duration := time.Since(start)

	if res.err != nil {
		inst.RecordTaskFailure()
		o.publishTaskFailed(ts.id, stageIdx, attempt, res.err.Error())
		return nil, apperr.AgentFailed(res.err.Error())
	}

	inst.RecordTaskSuccess(duration)
	o.publish(eventbus.EventTaskCompleted, ts.id, map[string]interface{}{
		"task_id": ts.id, "stage": stageIdx, "attempt": attempt, "agent_id": inst.ID(),
	})
	return res.out, nil
}

func (o *Orchestrator) publishTaskFailed(taskID string, stageIdx, attempt int, reason string) {
	o.publish(eventbus.EventTaskFailed, taskID, map[string]interface{}{
		"task_id": taskID, "stage": stageIdx, "attempt": attempt, "reason": reason,
	})
}

// pickAgent selects a Running instance of agentType round-robin,
// waiting up to spec.DispatchTimeout if none is immediately available.
func (o *Orchestrator) pickAgent(ts *taskState, agentType agent.Type) (*agent.Instance, error) {
	deadline := time.Now().Add(ts.spec.DispatchTimeout)
	for {
		if ts.isCancelled() {
			return nil, apperr.Cancelled("task %s cancelled", ts.id)
		}

		running := o.registry.RunningByType(agentType)
		if len(running) > 0 {
			idx := o.nextRoundRobin(agentType, len(running))
			return running[idx], nil
		}

		if time.Now().After(deadline) {
			return nil, apperr.NoAgentAvailable(string(agentType))
		}

		select {
		case <-time.After(o.cfg.DispatchPollInterval):
		case <-ts.cancelCh:
			return nil, apperr.Cancelled("task %s cancelled", ts.id)
		}
	}
}

func (o *Orchestrator) nextRoundRobin(t agent.Type, n int) int {
	o.mu.Lock()
	c := o.rrCounters[t]
	o.rrCounters[t] = c + 1
	o.mu.Unlock()
	return int(c % uint64(n))
}
