// Package events is the asynchronous event pipeline: a bus that enqueues envelopes and
// a processor that runs handlers with retry and dead-lettering.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
	"github.com/imrishuroy/go-webhook-relay/internal/metrics"
	"github.com/imrishuroy/go-webhook-relay/internal/tenant"
)

// State is a processing state of an envelope.
type State string

const (
	StateReceived       State = "RECEIVED"
	StateHandled        State = "HANDLED"
	StateRetryScheduled State = "RETRY_SCHEDULED"
	StateDeadLettered   State = "DEAD_LETTERED"
)

// ReasonUnknownEvent is the dead letter reason for events without a handler.
const ReasonUnknownEvent = "unknown_event"

const (
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 5 * time.Second
	DefaultHandlerTimeout = 15 * time.Second
)

// ErrDeadLetterNotStored is returned when a dead letter could not be persisted. The
// message should stay on the queue so it is delivered again.
var ErrDeadLetterNotStored = errors.New("dead letter not stored")

// DeadLetterSink persists terminal failures.
type DeadLetterSink interface {
	PersistDeadLetter(ctx context.Context, eventName string, payload map[string]any, reason string) audit.StoreResult
}

// DeadLetterHook is told about every dead letter that was stored.
type DeadLetterHook func(ctx context.Context, env Envelope, reason string)

// ProcessorConfig tunes retries. MaxRetries counts retries, not invocations: a handler
// that always fails runs MaxRetries+1 times before the envelope is dead-lettered.
type ProcessorConfig struct {
	MaxRetries     int
	RetryBackoff   time.Duration
	HandlerTimeout time.Duration
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	return c
}

// Outcome describes what Process did with an envelope.
type Outcome struct {
	State      State
	Attempt    int
	Reason     string
	DeadLetter *audit.StoreResult
}

// Processor is the consumer side of the pipeline.
type Processor struct {
	registry *Registry
	queue    Queue
	sink     DeadLetterSink
	cfg      ProcessorConfig
	logger   *zap.Logger
	hooks    []DeadLetterHook
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

func WithLogger(l *zap.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

func WithDeadLetterHook(h DeadLetterHook) ProcessorOption {
	return func(p *Processor) { p.hooks = append(p.hooks, h) }
}

// NewProcessor builds a Processor. queue receives scheduled retries.
func NewProcessor(registry *Registry, queue Queue, sink DeadLetterSink, cfg ProcessorConfig, opts ...ProcessorOption) *Processor {
	p := &Processor{
		registry: registry,
		queue:    queue,
		sink:     sink,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one delivery of env. It returns an error only when the envelope could
// not be moved on: the retry could not be enqueued or the dead letter could not be
// stored. Callers should leave the message on the queue in that case.
func (p *Processor) Process(ctx context.Context, env Envelope) (Outcome, error) {
	log := p.logger.With(
		zap.String("event", env.Name),
		zap.String("envelope_id", env.ID),
		zap.Int("attempt", env.Attempt),
		zap.String("tenant_schema", env.TenantSchema),
	)
	log.Debug("event received", zap.String("state", string(StateReceived)))

	handler, ok := p.registry.Lookup(env.Name)
	if !ok {
		return p.deadLetter(ctx, log, env, ReasonUnknownEvent)
	}

	res := p.invoke(ctx, handler, env)
	switch res.Kind {
	case KindSuccess:
		metrics.EventOutcomes.WithLabelValues(env.Name, string(StateHandled)).Inc()
		log.Debug("event handled")
		return Outcome{State: StateHandled, Attempt: env.Attempt}, nil

	case KindTerminal:
		return p.deadLetter(ctx, log, env, res.Reason)

	default:
		if env.Attempt >= p.cfg.MaxRetries {
			return p.deadLetter(ctx, log, env, res.Reason)
		}
		next := env.Retry()
		if err := p.queue.Enqueue(ctx, next, p.cfg.RetryBackoff); err != nil {
			log.Error("retry enqueue failed", zap.String("reason", res.Reason), zap.Error(err))
			return Outcome{State: StateReceived, Attempt: env.Attempt, Reason: res.Reason},
				fmt.Errorf("schedule retry for %s: %w", env.Name, err)
		}
		metrics.EventOutcomes.WithLabelValues(env.Name, string(StateRetryScheduled)).Inc()
		log.Info("retry scheduled",
			zap.Int("next_attempt", next.Attempt),
			zap.Duration("backoff", p.cfg.RetryBackoff),
			zap.String("reason", res.Reason),
		)
		return Outcome{State: StateRetryScheduled, Attempt: next.Attempt, Reason: res.Reason}, nil
	}
}

func (p *Processor) deadLetter(ctx context.Context, log *zap.Logger, env Envelope, reason string) (Outcome, error) {
	stored := p.sink.PersistDeadLetter(ctx, env.Name, env.Payload, reason)
	out := Outcome{State: StateDeadLettered, Attempt: env.Attempt, Reason: reason, DeadLetter: &stored}
	if !stored.Stored() {
		log.Error("dead letter not stored", zap.String("reason", reason), zap.Error(stored.Err))
		return out, fmt.Errorf("%w: %s", ErrDeadLetterNotStored, env.Name)
	}

	metrics.EventOutcomes.WithLabelValues(env.Name, string(StateDeadLettered)).Inc()
	log.Warn("event dead-lettered", zap.String("reason", reason), zap.Int64("dead_letter_id", stored.ID))
	for _, h := range p.hooks {
		h(ctx, env, reason)
	}
	return out, nil
}

// invoke runs the handler under a hard timeout. A handler that ignores its context is
// abandoned when the timeout fires; a panic is reported as a retryable failure.
func (p *Processor) invoke(ctx context.Context, h Handler, env Envelope) Result {
	ctx, cancel := context.WithTimeout(tenant.WithContext(ctx, env.Tenant()), p.cfg.HandlerTimeout)
	defer cancel()

	payload := make(map[string]any, len(env.Payload))
	for k, v := range env.Payload {
		payload[k] = v
	}

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Retryable(fmt.Sprintf("handler panic: %v", r))
			}
		}()
		done <- h(ctx, payload)
	}()

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res = Retryable(fmt.Sprintf("handler timed out after %s", p.cfg.HandlerTimeout))
		} else {
			res = Retryable("handler cancelled")
		}
	}
	metrics.HandlerDuration.WithLabelValues(env.Name).Observe(time.Since(start).Seconds())
	return res
}
