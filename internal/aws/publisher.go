package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/imrishuroy/go-webhook-relay/internal/events"
)

// MaxDelay is the longest delivery delay SQS supports.
const MaxDelay = 15 * time.Minute

// Message attribute names set on every envelope.
const (
	AttrEventName    = "event_name"
	AttrAttempt      = "attempt"
	AttrTenantSchema = "tenant_schema"
)

// Publisher wraps an SQS client and a queue URL. It is the durable queue behind the
// event bus.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// Enqueue sends env to the queue. delay is rounded up to whole seconds and capped at
// MaxDelay.
func (p *Publisher) Enqueue(ctx context.Context, env events.Envelope, delay time.Duration) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}

	attributes := map[string]string{
		AttrEventName: env.Name,
		AttrAttempt:   strconv.Itoa(env.Attempt),
	}
	if env.TenantSchema != "" {
		attributes[AttrTenantSchema] = env.TenantSchema
	}
	return p.send(ctx, body, attributes, delaySeconds(delay))
}

func (p *Publisher) send(ctx context.Context, messageBody string, attributes map[string]string, delay int32) error {
	input := &sqs.SendMessageInput{
		QueueUrl:     &p.QueueURL,
		MessageBody:  &messageBody,
		DelaySeconds: delay,
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			// using string type for all attrs
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: awsString(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	_, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func delaySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	secs := int32(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// awsString helper
func awsString(s string) *string { return &s }
