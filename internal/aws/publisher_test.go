package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-webhook-relay/internal/events"
)

func TestPublisher_Enqueue(t *testing.T) {
	mock := &mockSQS{}
	p := NewPublisher(mock, "https://sqs.local/events")

	env := events.NewEnvelope("StripeInvoicePaid", map[string]any{"tenant_schema": "acme"}, time.Now()).Retry()
	require.NoError(t, p.Enqueue(context.Background(), env, 5*time.Second))

	require.Len(t, mock.sent, 1)
	in := mock.sent[0]
	assert.Equal(t, "https://sqs.local/events", *in.QueueUrl)
	assert.Equal(t, int32(5), in.DelaySeconds)
	assert.Equal(t, "StripeInvoicePaid", *in.MessageAttributes[AttrEventName].StringValue)
	assert.Equal(t, "1", *in.MessageAttributes[AttrAttempt].StringValue)
	assert.Equal(t, "acme", *in.MessageAttributes[AttrTenantSchema].StringValue)

	got, err := events.DecodeEnvelope([]byte(*in.MessageBody))
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, 1, got.Attempt)
}

func TestPublisher_EnqueueError(t *testing.T) {
	mock := &mockSQS{sendErr: errors.New("throttled")}
	err := NewPublisher(mock, "q").Enqueue(context.Background(), events.NewEnvelope("X", nil, time.Now()), 0)
	assert.ErrorContains(t, err, "throttled")
}

func TestDelaySeconds(t *testing.T) {
	assert.Equal(t, int32(0), delaySeconds(-time.Second))
	assert.Equal(t, int32(0), delaySeconds(0))
	assert.Equal(t, int32(1), delaySeconds(10*time.Millisecond))
	assert.Equal(t, int32(5), delaySeconds(5*time.Second))
	assert.Equal(t, int32(900), delaySeconds(time.Hour))
}
