package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/metrics"
)

// Queue is a durable work queue. delay postpones delivery of the envelope.
type Queue interface {
	Enqueue(ctx context.Context, env Envelope, delay time.Duration) error
}

// Emitter publishes events.
type Emitter interface {
	Emit(ctx context.Context, name string, payload map[string]any) error
}

// Bus is the producer side of the event pipeline. Emit returns once the envelope is on
// the queue; processing outcome is never reported back to the caller.
type Bus struct {
	queue  Queue
	clock  clockwork.Clock
	logger *zap.Logger
}

func NewBus(queue Queue, clock clockwork.Clock, logger *zap.Logger) *Bus {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{queue: queue, clock: clock, logger: logger}
}

func (b *Bus) Emit(ctx context.Context, name string, payload map[string]any) error {
	env := NewEnvelope(name, payload, b.clock.Now())
	return b.Publish(ctx, env)
}

// Publish enqueues a prepared envelope for immediate delivery.
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	if err := b.queue.Enqueue(ctx, env, 0); err != nil {
		metrics.EventsEmitted.WithLabelValues(env.Name, "error").Inc()
		b.logger.Error("emit failed",
			zap.String("event", env.Name),
			zap.String("envelope_id", env.ID),
			zap.Error(err),
		)
		return fmt.Errorf("emit %s: %w", env.Name, err)
	}
	metrics.EventsEmitted.WithLabelValues(env.Name, "ok").Inc()
	b.logger.Debug("event emitted",
		zap.String("event", env.Name),
		zap.String("envelope_id", env.ID),
		zap.String("tenant_schema", env.TenantSchema),
	)
	return nil
}
