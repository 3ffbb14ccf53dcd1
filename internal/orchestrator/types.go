// Package orchestrator implements the PipelineOrchestrator: it drives a
// submitted task through a directed sequence of stages, each bound to
// an AgentType, using the MessageBus request/response protocol and
// emitting EventBus transitions at every step. Grounded on the
// teacher's ticker-driven queue/scheduler pair
// (internal/orchestrator/scheduler, internal/orchestrator/queue) but
// generalized from a single Task-state-machine to a multi-stage
// pipeline with per-stage retry.
package orchestrator

import (
	"context"
	"time"

	"github.com/kandev/agentcore/internal/agent"
	"github.com/kandev/agentcore/internal/messaging"
)

// Spec is a client's pipeline submission, mirroring the external
// surface spec.md §6 names for submit().
type Spec struct {
	Stages          []agent.Type
	Payload         interface{}
	Priority        messaging.Priority
	SubmitTimeout   time.Duration // 0 => orchestrator default
	StageTimeout    time.Duration
	DispatchTimeout time.Duration
	MaxRetries      int
}

// StageTask is what a registered Handler receives for one dispatch
// attempt of one stage.
type StageTask struct {
	TaskID    string
	Stage     int
	AgentType agent.Type
	AgentID   string
	Attempt   int
	Payload   interface{}
}

// Handler plays the role of the agent side of the TaskRequest/
// TaskResponse exchange: given a stage's input, it returns the
// artifact to forward to the next stage, or an error that becomes the
// ack's failure reason.
type Handler func(ctx context.Context, task *StageTask) (interface{}, error)

// Kind is the closed set of terminal and wait outcomes.
type Kind string

const (
	KindCompleted Kind = "Completed"
	KindFailed    Kind = "Failed"
	KindCancelled Kind = "Cancelled"
	KindTimedOut  Kind = "TimedOut"
)

// Outcome is the terminal (or wait) status of a submitted task.
type Outcome struct {
	Kind     Kind
	Artifact interface{}
	Reason   string
}
