package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/platform/apperr"
	"github.com/kandev/agentcore/internal/platform/logger"
)

// Config sizes the bus and controls janitor cadence, mirroring the
// Rust original's MessageBusConfig defaults.
type Config struct {
	BroadcastCapacity         int
	MaxHistorySize            int
	ExpirationCheckInterval   time.Duration
	AckTimeout                time.Duration
}

// DefaultConfig mirrors MessageBusConfig's defaults: broadcast_capacity
// 1000, max_history_size 10000, expiration_check_interval_secs 60,
// ack_timeout_secs 30.
func DefaultConfig() Config {
	return Config{
		BroadcastCapacity:       1000,
		MaxHistorySize:          10000,
		ExpirationCheckInterval: 60 * time.Second,
		AckTimeout:              30 * time.Second,
	}
}

const ackPollInterval = 100 * time.Millisecond

type pendingAck struct {
	sentAt time.Time
}

type broadcastSub struct {
	ch     chan *Message
	closed bool
}

// Bus delivers Messages with at-least-once semantics among named
// endpoints: per-receiver FIFO queues, a bounded lossy broadcast
// channel, ack tracking, expiry, and a bounded history ring.
type Bus struct {
	cfg Config
	log *logger.Logger

	mu       sync.Mutex
	queues   map[string][]*Message
	acks     map[string]*Ack
	pending  map[string]pendingAck
	history  []*Message
	subs     map[*broadcastSub]struct{}
	closed   bool

	sent      int64
	delivered int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Bus and starts its background janitor.
func New(cfg Config, log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Default()
	}
	if cfg.BroadcastCapacity <= 0 {
		cfg.BroadcastCapacity = 1000
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = 10000
	}
	if cfg.ExpirationCheckInterval <= 0 {
		cfg.ExpirationCheckInterval = 60 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}

	b := &Bus{
		cfg:     cfg,
		log:     log.With(zap.String("component", "messagebus")),
		queues:  make(map[string][]*Message),
		acks:    make(map[string]*Ack),
		pending: make(map[string]pendingAck),
		subs:    make(map[*broadcastSub]struct{}),
		stopCh:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.janitorLoop()
	return b
}

// Send delivers m: a hard error if m is already expired, otherwise
// appended to history, tracked for ack if required, and routed to a
// per-receiver FIFO queue or the broadcast channel.
func (b *Bus) Send(m *Message) error {
	if m.Expired() {
		return apperr.Expired("message %s expired before send", m.ID)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, m)
	if len(b.history) > b.cfg.MaxHistorySize {
		b.history = b.history[len(b.history)-b.cfg.MaxHistorySize:]
	}
	b.sent++

	if m.RequiresAck {
		b.pending[m.ID] = pendingAck{sentAt: time.Now()}
	}

	if m.ReceiverID != nil {
		b.queues[*m.ReceiverID] = append(b.queues[*m.ReceiverID], m)
		return nil
	}

	for s := range b.subs {
		select {
		case s.ch <- m:
		default:
			b.log.Warn("dropping broadcast message, subscriber channel full", zap.String("message_id", m.ID))
		}
	}
	return nil
}

// Receive pops the head of receiverID's FIFO queue, transparently
// skipping and discarding any expired heads. Returns nil, false when
// the queue is empty.
func (b *Bus) Receive(receiverID string) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[receiverID]
	for len(q) > 0 {
		head := q[0]
		q = q[1:]
		if head.Expired() {
			continue
		}
		b.queues[receiverID] = q
		b.delivered++
		return head, true
	}
	b.queues[receiverID] = q
	return nil, false
}

// Subscribe returns a fresh best-effort broadcast channel. Late
// subscribers do not observe earlier frames.
func (b *Bus) Subscribe() (<-chan *Message, func()) {
	s := &broadcastSub{ch: make(chan *Message, b.cfg.BroadcastCapacity)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[s]; !ok {
			return
		}
		delete(b.subs, s)
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
}

// Acknowledge records the first ack for msgID from ackerID and removes
// it from the pending-ack set. Unknown msgID (not in the pending-ack set:
// never sent with RequiresAck, or already dropped by the janitor) is
// accepted idempotently with no state change; a second ack for the same
// id is a no-op.
func (b *Bus) Acknowledge(msgID, ackerID string, success bool, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.acks[msgID]; exists {
		return
	}
	if _, pending := b.pending[msgID]; !pending {
		return
	}
	b.acks[msgID] = &Ack{
		MessageID:      msgID,
		AcknowledgerID: ackerID,
		AcknowledgedAt: time.Now(),
		Success:        success,
		Error:          errMsg,
	}
	delete(b.pending, msgID)
}

// GetAck returns the recorded ack for msgID, if any.
func (b *Bus) GetAck(msgID string) (*Ack, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.acks[msgID]
	return a, ok
}

// WaitForAck polls the ack map (at an interval no tighter than 100ms)
// until msgID is acknowledged or timeout elapses.
func (b *Bus) WaitForAck(ctx context.Context, msgID string, timeout time.Duration) (*Ack, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(ackPollInterval)
	defer ticker.Stop()

	if a, ok := b.GetAck(msgID); ok {
		return a, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, apperr.Cancelled("wait for ack %s cancelled", msgID)
		case <-ticker.C:
			if a, ok := b.GetAck(msgID); ok {
				return a, nil
			}
			if time.Now().After(deadline) {
				return nil, apperr.Timeout("timed out waiting for ack of message %s", msgID)
			}
		}
	}
}

// GetHistory returns the latest limit messages, newest first.
func (b *Bus) GetHistory(limit int) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Message, limit)
	for i := 0; i < limit; i++ {
		out[i] = b.history[n-1-i]
	}
	return out
}

// Stats returns a point-in-time activity snapshot.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	queued := 0
	for _, q := range b.queues {
		queued += len(q)
	}
	return Stats{
		TotalSent:      b.sent,
		TotalDelivered: b.delivered,
		HistorySize:    len(b.history),
		PendingAcks:    len(b.pending),
		QueuedMessages: queued,
	}
}

// CleanupExpired drops expired entries from every per-receiver queue.
func (b *Bus) CleanupExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for receiver, q := range b.queues {
		kept := q[:0:0]
		for _, m := range q {
			if !m.Expired() {
				kept = append(kept, m)
			}
		}
		b.queues[receiver] = kept
	}
}

// CleanupPendingAcks drops pending-ack entries older than AckTimeout,
// regardless of whether the underlying message itself expired.
func (b *Bus) CleanupPendingAcks() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for id, p := range b.pending {
		if now.Sub(p.sentAt) > b.cfg.AckTimeout {
			delete(b.pending, id)
		}
	}
}

func (b *Bus) janitorLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.ExpirationCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.CleanupExpired()
			b.CleanupPendingAcks()
		}
	}
}

// Close stops the janitor and releases broadcast subscribers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for s := range b.subs {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
	b.subs = make(map[*broadcastSub]struct{})
	b.mu.Unlock()

	close(b.stopCh)
	b.wg.Wait()
}
