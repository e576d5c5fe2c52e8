package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-webhook-relay/internal/tenant"
)

// Envelope is the unit of work carried by the queue. Attempt starts at 0 and is
// incremented on every scheduled retry.
type Envelope struct {
	ID           string         `json:"id" validate:"required"`
	Name         string         `json:"name" validate:"required,max=128"`
	Payload      map[string]any `json:"payload"`
	TenantSchema string         `json:"tenant_schema,omitempty"`
	TenantID     *int64         `json:"tenant_id,omitempty"`
	Attempt      int            `json:"attempt" validate:"gte=0"`
	EmittedAt    time.Time      `json:"emitted_at"`
}

var envelopeValidator = validatorv10.New()

// NewEnvelope wraps payload for name. Tenant fields are lifted from the payload.
func NewEnvelope(name string, payload map[string]any, now time.Time) Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	h := tenant.FromPayload(payload)
	return Envelope{
		ID:           uuid.NewString(),
		Name:         name,
		Payload:      payload,
		TenantSchema: h.Schema,
		TenantID:     h.ID,
		EmittedAt:    now.UTC(),
	}
}

// Tenant returns the tenant handle carried by the envelope.
func (e Envelope) Tenant() tenant.Handle {
	return tenant.Handle{Schema: e.TenantSchema, ID: e.TenantID}
}

// Retry returns the envelope for the next attempt.
func (e Envelope) Retry() Envelope {
	next := e
	next.Attempt++
	return next
}

// Encode serializes the envelope for the queue.
func (e Envelope) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}

// DecodeEnvelope parses and validates a queued envelope. Payload numbers decode as
// json.Number.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if err := envelopeValidator.Struct(env); err != nil {
		return env, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	return env, nil
}
