package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
	"github.com/imrishuroy/go-webhook-relay/internal/tenant"
)

// PayloadRequeuedKey flags payloads re-emitted from the dead letter store.
const PayloadRequeuedKey = "requeued_from_dlq"

// DeadLetterSource reads and stamps stored dead letters.
type DeadLetterSource interface {
	GetDeadLetter(ctx context.Context, id int64) (*audit.DeadLetterEntry, error)
	MarkRequeued(ctx context.Context, id int64) error
}

// RequeueOverrides replaces the tenant fields of a requeued payload.
type RequeueOverrides struct {
	TenantSchema *string
	TenantID     *int64
}

// Requeuer re-emits dead letters as fresh envelopes.
type Requeuer struct {
	source DeadLetterSource
	bus    *Bus
	logger *zap.Logger
}

func NewRequeuer(source DeadLetterSource, bus *Bus, logger *zap.Logger) *Requeuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Requeuer{source: source, bus: bus, logger: logger}
}

// Requeue loads dead letter id and emits its event again with attempt 0. Tenant fields
// missing from the payload are filled from the stored row, then overrides apply.
func (r *Requeuer) Requeue(ctx context.Context, id int64, o RequeueOverrides) (Envelope, error) {
	entry, err := r.source.GetDeadLetter(ctx, id)
	if err != nil {
		return Envelope{}, err
	}

	payload := make(map[string]any, len(entry.Payload)+3)
	for k, v := range entry.Payload {
		payload[k] = v
	}
	if _, ok := payload[tenant.PayloadSchemaKey]; !ok {
		payload[tenant.PayloadSchemaKey] = optionalString(entry.TenantSchema)
	}
	if _, ok := payload[tenant.PayloadIDKey]; !ok {
		payload[tenant.PayloadIDKey] = optionalInt64(entry.TenantID)
	}
	if o.TenantSchema != nil {
		payload[tenant.PayloadSchemaKey] = *o.TenantSchema
	}
	if o.TenantID != nil {
		payload[tenant.PayloadIDKey] = *o.TenantID
	}
	payload[PayloadRequeuedKey] = true

	env := NewEnvelope(entry.EventName, payload, r.bus.clock.Now())
	if err := r.bus.Publish(ctx, env); err != nil {
		return Envelope{}, err
	}

	if err := r.source.MarkRequeued(ctx, id); err != nil && !errors.Is(err, audit.ErrNotFound) {
		// the event is already back on the queue; only the bookkeeping is missing
		r.logger.Warn("mark requeued failed", zap.Int64("dead_letter_id", id), zap.Error(err))
	}
	r.logger.Info("dead letter requeued",
		zap.Int64("dead_letter_id", id),
		zap.String("event", env.Name),
		zap.String("envelope_id", env.ID),
	)
	return env, nil
}

// RequeueMany requeues each id and reports how many were emitted. It keeps going after
// individual failures.
func (r *Requeuer) RequeueMany(ctx context.Context, ids []int64, o RequeueOverrides) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, id := range ids {
		if _, err := r.Requeue(ctx, id, o); err != nil {
			errs = append(errs, fmt.Errorf("dead letter %d: %w", id, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func optionalString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
