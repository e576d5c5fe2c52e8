// Package idempotency deduplicates webhook deliveries by (provider, event id).
package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/metrics"
)

// Guard tries each marker in order and moves to the next one only when a marker errors.
// When every marker errors the guard fails open and treats the delivery as new.
type Guard struct {
	markers []Marker
	ttl     time.Duration
	logger  *zap.Logger
}

// NewGuard returns a Guard over markers, primary first.
func NewGuard(ttl time.Duration, logger *zap.Logger, markers ...Marker) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{markers: markers, ttl: ttl, logger: logger}
}

// TTL returns the window a delivery stays marked.
func (g *Guard) TTL() time.Duration { return g.ttl }

// CheckAndMark reports whether this is the first delivery of eventID from provider inside
// the TTL window. An empty eventID cannot be deduplicated and is always first seen.
func (g *Guard) CheckAndMark(ctx context.Context, provider, eventID string) bool {
	if eventID == "" {
		metrics.IdempotencyChecks.WithLabelValues("none", "no_event_id").Inc()
		return true
	}
	key := Key(provider, eventID)
	for _, m := range g.markers {
		first, err := m.Mark(ctx, key, g.ttl)
		if err != nil {
			metrics.IdempotencyChecks.WithLabelValues(m.Name(), "error").Inc()
			g.logger.Warn("idempotency marker unavailable",
				zap.String("marker", m.Name()),
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		if first {
			metrics.IdempotencyChecks.WithLabelValues(m.Name(), "first").Inc()
		} else {
			metrics.IdempotencyChecks.WithLabelValues(m.Name(), "duplicate").Inc()
		}
		return first
	}
	metrics.IdempotencyChecks.WithLabelValues("none", "fail_open").Inc()
	g.logger.Warn("idempotency check failing open", zap.String("key", key))
	return true
}

// Release forgets a delivery on every marker. Errors are logged and otherwise ignored.
func (g *Guard) Release(ctx context.Context, provider, eventID string) {
	if eventID == "" {
		return
	}
	key := Key(provider, eventID)
	for _, m := range g.markers {
		if err := m.Release(ctx, key); err != nil {
			g.logger.Warn("idempotency release failed",
				zap.String("marker", m.Name()),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}
