// Package history defines the durable event history contract. The
// in-process EventBus/MessageBus history rings are bounded and
// process-local; Store is the optional adapter that mirrors published
// events into durable storage for post-hoc inspection, grounded on
// the teacher's internal/common/database connection-pool pattern.
package history

import (
	"context"
	"time"
)

// Record is the durable shape of one historical event, independent of
// whether it originated on the EventBus or the MessageBus.
type Record struct {
	ID        string
	Type      string
	SourceID  string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Store persists and retrieves Records. Implementations must treat
// Append as fire-and-forget from the caller's perspective: a slow or
// down store must never block event publication, so callers typically
// wrap Append in a bounded goroutine pool rather than calling inline.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
