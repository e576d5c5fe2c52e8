package aws

import (
	"context"
	"errors"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-webhook-relay/internal/events"
)

const (
	maxBatch       = 10
	receiveBackoff = time.Second
)

// EnvelopeProcessor runs one delivery of an envelope.
type EnvelopeProcessor interface {
	Process(ctx context.Context, env events.Envelope) (events.Outcome, error)
}

// Consumer pulls envelopes from SQS and hands them to a processor. A message is
// deleted only after the processor moved it to a final state or scheduled its retry;
// anything else is left for SQS to redeliver after the visibility timeout.
type Consumer struct {
	SQS         SQSAPI
	QueueURL    string
	Processor   EnvelopeProcessor
	Concurrency int
	WaitSeconds int32
	Logger      *zap.Logger
}

// Run polls until ctx is cancelled, then waits for in-flight messages.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.logger()
	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	batch := int32(concurrency)
	if batch > maxBatch {
		batch = maxBatch
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	logger.Info("consumer started", zap.String("queue_url", c.QueueURL), zap.Int("concurrency", concurrency))
	for ctx.Err() == nil {
		out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              &c.QueueURL,
			MaxNumberOfMessages:   batch,
			WaitTimeSeconds:       c.WaitSeconds,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(receiveBackoff):
			}
			continue
		}

		for _, msg := range out.Messages {
			// handlers get their own context so shutdown does not abort a running attempt
			g.Go(func() error {
				c.handleMessage(context.WithoutCancel(ctx), msg)
				return nil
			})
		}
	}

	_ = g.Wait()
	logger.Info("consumer stopped")
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg sqstypes.Message) {
	logger := c.logger()
	body := ""
	if msg.Body != nil {
		body = *msg.Body
	}
	if err := c.process(ctx, body); err != nil {
		logger.Warn("message left for redelivery", zap.Stringp("message_id", msg.MessageId), zap.Error(err))
		return
	}
	_, err := c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.Error("delete message failed", zap.Stringp("message_id", msg.MessageId), zap.Error(err))
	}
}

func (c *Consumer) process(ctx context.Context, body string) error {
	env, err := events.DecodeEnvelope([]byte(body))
	if err != nil {
		// malformed bodies stay on the queue until the redrive policy moves them
		return err
	}
	_, err = c.Processor.Process(ctx, env)
	return err
}

// HandleSQSEvent is the Lambda entry point. Failed records are reported as batch item
// failures so only they are redelivered.
func (c *Consumer) HandleSQSEvent(ctx context.Context, ev lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	logger := c.logger()
	logger.Debug("received SQS batch", zap.Int("records", len(ev.Records)))

	var resp lambdaevents.SQSEventResponse
	var errs []error
	for _, rec := range ev.Records {
		if err := c.process(ctx, rec.Body); err != nil {
			logger.Warn("record failed", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, lambdaevents.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && len(errs) == len(ev.Records) {
		logger.Error("whole batch failed", zap.Error(errors.Join(errs...)))
	}
	return resp, nil
}

func (c *Consumer) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
