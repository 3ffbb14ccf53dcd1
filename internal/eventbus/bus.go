package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/platform/apperr"
	"github.com/kandev/agentcore/internal/platform/logger"
)

// Config sizes the broadcast channel and history ring.
type Config struct {
	BroadcastCapacity int
	MaxHistorySize    int
}

// DefaultConfig mirrors the Rust original's MessageBusConfig-style
// defaults for the event side of the bus.
func DefaultConfig() Config {
	return Config{BroadcastCapacity: 1000, MaxHistorySize: 10000}
}

type subscriber struct {
	ch     chan *Event
	closed bool
}

// Bus publishes immutable Events to per-type handlers (fan-out via
// detached goroutines, errors logged but never blocking) and to
// best-effort broadcast subscribers, while keeping a bounded history
// ring — grounded on internal/events/bus/memory.go's dispatch idiom.
type Bus struct {
	cfg Config
	log *logger.Logger

	mu       sync.RWMutex
	handlers map[EventType][]Handler
	subs     map[*subscriber]struct{}
	history  []*Event
	closed   bool

	published int64
}

// New constructs a Bus with cfg.
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
	return &Bus{
		cfg:      cfg,
		log:      log.With(zap.String("component", "eventbus")),
		handlers: make(map[EventType][]Handler),
		subs:     make(map[*subscriber]struct{}),
	}
}

// RegisterHandler appends h under every event type it declares
// interest in. Handlers are never deduplicated.
func (b *Bus) RegisterHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, et := range h.InterestedEvents() {
		b.handlers[et] = append(b.handlers[et], h)
	}
}

// Publish appends an Event to history, pushes it to broadcast
// subscribers, and spawns one detached goroutine per matching handler.
// Handler errors are logged but never block other handlers or the
// publish call itself.
func (b *Bus) Publish(ctx context.Context, eventType EventType, sourceID string, data map[string]interface{}) (*Event, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, apperr.Internal("event bus is closed", nil)
	}

	ev := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SourceID:  sourceID,
		Data:      data,
		Timestamp: time.Now(),
		Metadata:  map[string]string{},
	}

	b.history = append(b.history, ev)
	if len(b.history) > b.cfg.MaxHistorySize {
		b.history = b.history[len(b.history)-b.cfg.MaxHistorySize:]
	}
	atomic.AddInt64(&b.published, 1)

	handlers := append([]Handler(nil), b.handlers[eventType]...)
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	// Each subscriber and handler gets its own copy of the event and of
	// its Data map.
	clone := func() *Event {
		c := *ev
		if ev.Data != nil {
			c.Data = make(map[string]interface{}, len(ev.Data))
			for k, v := range ev.Data {
				c.Data[k] = v
			}
		}
		return &c
	}

	for _, s := range subs {
		select {
		case s.ch <- clone():
		default:
			b.log.Warn("dropping event for slow broadcast subscriber", zap.String("event_type", string(eventType)))
		}
	}

	for _, h := range handlers {
		go func(h Handler, ev *Event) {
			if err := h.Handle(ctx, ev); err != nil {
				b.log.Error("event handler error",
					zap.String("handler_id", h.ID()),
					zap.String("event_type", string(eventType)),
					zap.Error(err))
			}
		}(h, clone())
	}

	return ev, nil
}

// Subscribe returns a fresh broadcast channel and an unsubscribe
// function. Late subscribers do not observe earlier frames.
func (b *Bus) Subscribe() (<-chan *Event, func()) {
	s := &subscriber{ch: make(chan *Event, b.cfg.BroadcastCapacity)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
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
	return s.ch, unsubscribe
}

// GetHistory returns the latest limit events, newest first.
func (b *Bus) GetHistory(limit int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Event, limit)
	for i := 0; i < limit; i++ {
		out[i] = b.history[n-1-i]
	}
	return out
}

// Stats returns a point-in-time activity snapshot.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlerCount := 0
	for _, hs := range b.handlers {
		handlerCount += len(hs)
	}
	return Stats{
		TotalPublished: atomic.LoadInt64(&b.published),
		HistorySize:    len(b.history),
		Subscribers:    len(b.subs),
		HandlerCount:   handlerCount,
	}
}

// Close marks the bus closed and releases broadcast subscribers.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
	b.subs = make(map[*subscriber]struct{})
}

// HandlerFunc adapts a plain function plus a static interest list into
// a Handler, for callers who do not need a full struct.
type HandlerFunc struct {
	HandlerID string
	Events    []EventType
	Fn        func(ctx context.Context, e *Event) error
}

func (f HandlerFunc) ID() string                     { return f.HandlerID }
func (f HandlerFunc) InterestedEvents() []EventType  { return f.Events }
func (f HandlerFunc) Handle(ctx context.Context, e *Event) error {
	return f.Fn(ctx, e)
}
