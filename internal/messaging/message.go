// Package messaging implements the MessageBus: point-to-point FIFO
// queues, a best-effort broadcast channel, acknowledgement tracking,
// expiry, and a bounded history ring, grounded on
// original_source/src/orchestrator/messaging.rs and the teacher's
// ticker-driven janitor idiom.
package messaging

import "time"

// Type is the closed set of message kinds exchanged on the bus.
type Type string

const (
	TypeTaskRequest      Type = "TaskRequest"
	TypeTaskResponse     Type = "TaskResponse"
	TypeStatusUpdate     Type = "StatusUpdate"
	TypeErrorNotice      Type = "ErrorNotification"
	TypeDataTransfer     Type = "DataTransfer"
	TypeControlCommand   Type = "ControlCommand"
	TypeHeartbeat        Type = "Heartbeat"
)

// Priority is advisory metadata only: the bus always preserves FIFO
// order per receiver regardless of priority (spec.md §9 Open
// Question (a)).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Message is the unit of exchange on the bus.
type Message struct {
	ID            string
	Type          Type
	SenderID      string
	ReceiverID    *string // nil means broadcast
	Priority      Priority
	Payload       interface{}
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	RetryCount    int
	MaxRetries    int
	RequiresAck   bool
	CorrelationID *string
	Metadata      map[string]string
}

// NewMessage builds a Message with sensible defaults; use the With*
// methods to customize it before Send, mirroring the builder pattern
// of the Rust original.
func NewMessage(msgType Type, senderID string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		SenderID:  senderID,
		Priority:  PriorityNormal,
		Payload:   payload,
		CreatedAt: time.Now(),
		Metadata:  map[string]string{},
	}
}

func (m *Message) WithReceiver(receiverID string) *Message {
	m.ReceiverID = &receiverID
	return m
}

func (m *Message) WithPriority(p Priority) *Message {
	m.Priority = p
	return m
}

func (m *Message) WithExpiresAt(t time.Time) *Message {
	m.ExpiresAt = &t
	return m
}

func (m *Message) WithRequiresAck(v bool) *Message {
	m.RequiresAck = v
	return m
}

func (m *Message) WithCorrelationID(id string) *Message {
	m.CorrelationID = &id
	return m
}

func (m *Message) WithMaxRetries(n int) *Message {
	m.MaxRetries = n
	return m
}

// Expired reports whether m has a past ExpiresAt.
func (m *Message) Expired() bool {
	return m.ExpiresAt != nil && time.Now().After(*m.ExpiresAt)
}

// Ack is a single acknowledgement of a message. At most one Ack is kept
// per (MessageID, AcknowledgerID); the first one wins.
type Ack struct {
	MessageID      string
	AcknowledgerID string
	AcknowledgedAt time.Time
	Success        bool
	Error          string
}

// Stats is a point-in-time snapshot of bus activity, restoring the
// MessageBusStats bookkeeping the Rust original exposed.
type Stats struct {
	TotalSent      int64
	TotalDelivered int64
	HistorySize    int
	PendingAcks    int
	QueuedMessages int
}
