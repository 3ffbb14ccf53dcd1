// Package natsbridge mirrors EventBus broadcasts onto a NATS subject,
// grounded on the teacher's internal/events/bus/nats.go connection
// handling (reconnect options, status handlers) but repurposed as a
// one-way mirror rather than a full EventBus implementation: the core
// orchestration path never depends on NATS being reachable.
package natsbridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/eventbus"
	"github.com/kandev/agentcore/internal/platform/logger"
)

// Bridge subscribes to an eventbus.Bus's broadcast channel and
// publishes every event as JSON on a fixed NATS subject, for external
// observers (dashboards, other services) that don't share the process.
type Bridge struct {
	conn    *nats.Conn
	log     *logger.Logger
	subject string
	stop    func()
}

// Connect dials NATS and starts mirroring events's broadcast stream
// onto subject until Close is called.
func Connect(url, subject string, events *eventbus.Bus, log *logger.Logger) (*Bridge, error) {
	if log == nil {
		log = logger.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("agentcore"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS bridge disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS bridge reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: connect: %w", err)
	}

	ch, unsubscribe := events.Subscribe()
	b := &Bridge{conn: conn, log: log, subject: subject, stop: unsubscribe}

	go b.run(ch)
	return b, nil
}

func (b *Bridge) run(ch <-chan *eventbus.Event) {
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			b.log.Error("natsbridge: marshal event", zap.Error(err))
			continue
		}
		if err := b.conn.Publish(b.subject, data); err != nil {
			b.log.Error("natsbridge: publish", zap.String("subject", b.subject), zap.Error(err))
		}
	}
}

// Close stops mirroring and drains the NATS connection.
func (b *Bridge) Close() {
	b.stop()
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			b.conn.Close()
		}
	}
}
