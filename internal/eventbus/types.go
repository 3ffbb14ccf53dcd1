// Package eventbus implements the publish/subscribe fan-out for
// lifecycle and pipeline events, grounded on the in-memory dispatch
// idiom of the teacher's internal/events/bus package but simplified to
// the closed EventType enumeration the orchestration core needs
// (no NATS-style subject wildcards).
package eventbus

import (
	"context"
	"time"
)

// EventType is the closed set of lifecycle/pipeline events, extensible
// via Custom for implementation-specific tags.
type EventType string

const (
	EventTaskSubmitted EventType = "TaskSubmitted"
	EventTaskStarted   EventType = "TaskStarted"
	EventTaskCompleted EventType = "TaskCompleted"
	EventTaskFailed    EventType = "TaskFailed"
	EventTaskCancelled EventType = "TaskCancelled"
	EventAgentStarted  EventType = "AgentStarted"
	EventAgentStopped  EventType = "AgentStopped"
	EventAgentError    EventType = "AgentError"
	EventSystemStarted EventType = "SystemStarted"
	EventSystemStopped EventType = "SystemStopped"
)

// Custom builds a Custom(tag) event type for implementation-specific
// notifications not covered by the fixed set above.
func Custom(tag string) EventType {
	return EventType("Custom:" + tag)
}

// Event is an immutable record published on the bus. Once published it
// is never amended; consumers receive independent copies of Data.
type Event struct {
	ID        string
	Type      EventType
	SourceID  string
	Data      map[string]interface{}
	Timestamp time.Time
	Metadata  map[string]string
}

// Handler is a capability-typed event consumer, per spec.md §9's
// "dynamic dispatch of handlers" design note: any type exposing this
// method set may register, whether backed by a closure adapter or a
// full struct.
type Handler interface {
	ID() string
	InterestedEvents() []EventType
	Handle(ctx context.Context, e *Event) error
}

// Stats is a point-in-time snapshot of bus activity, restoring the
// MessageBusStats/EventBusStats bookkeeping the Rust original exposed.
type Stats struct {
	TotalPublished int64
	HistorySize    int
	Subscribers    int
	HandlerCount   int
}
