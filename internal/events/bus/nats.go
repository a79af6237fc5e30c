package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/common/logger"
)

// subjectPrefix namespaces gateway events on the NATS side.
const subjectPrefix = "baton.events."

// NATSEventBus mirrors local events to a NATS server in addition to
// in-process delivery. Used when events.nats_url is configured.
type NATSEventBus struct {
	local  *MemoryEventBus
	conn   *nats.Conn
	logger *logger.Logger
}

// NewNATSEventBus connects to NATS and wraps an in-process bus.
func NewNATSEventBus(url string, log *logger.Logger) (*NATSEventBus, error) {
	conn, err := nats.Connect(url, nats.Name("baton-gateway"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSEventBus{
		local:  NewMemoryEventBus(),
		conn:   conn,
		logger: log.WithFields(zap.String("component", "nats-event-bus")),
	}, nil
}

// Publish delivers locally and mirrors the event to baton.events.<subject>.
func (b *NATSEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	if err := b.local.Publish(ctx, subject, event); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.conn.Publish(subjectPrefix+subject, data); err != nil {
		b.logger.Warn("failed to mirror event to NATS",
			zap.String("subject", subject),
			zap.Error(err))
	}
	return nil
}

// Subscribe registers a local handler. NATS-side consumers subscribe to the
// mirrored subjects directly.
func (b *NATSEventBus) Subscribe(subject string, handler Handler) (func(), error) {
	return b.local.Subscribe(subject, handler)
}

// Close drains the NATS connection and stops local delivery.
func (b *NATSEventBus) Close() {
	b.local.Close()
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("NATS drain error", zap.Error(err))
	}
}
