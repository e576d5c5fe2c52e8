package aws

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/events"
)

// DeadLetterMetrics publishes one CloudWatch data point per dead letter so operators
// can alarm on it.
type DeadLetterMetrics struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	Logger     *zap.Logger
	nowFunc    func() time.Time
}

// NewDeadLetterMetrics returns a publisher for namespace.
func NewDeadLetterMetrics(cw CloudWatchAPI, namespace string, logger *zap.Logger) *DeadLetterMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadLetterMetrics{CloudWatch: cw, Namespace: namespace, Logger: logger, nowFunc: time.Now}
}

// Hook adapts the publisher to the processor's dead letter hook. Publishing errors are
// logged only.
func (m *DeadLetterMetrics) Hook() events.DeadLetterHook {
	return func(ctx context.Context, env events.Envelope, reason string) {
		if err := m.Publish(ctx, env.Name, env.TenantSchema); err != nil {
			m.Logger.Warn("dead letter metric not published", zap.String("event", env.Name), zap.Error(err))
		}
	}
}

// Publish records one dead letter for eventName.
func (m *DeadLetterMetrics) Publish(ctx context.Context, eventName, tenantSchema string) error {
	dims := []cwtypes.Dimension{
		{Name: sdkaws.String("EventName"), Value: sdkaws.String(eventName)},
	}
	if tenantSchema != "" {
		dims = append(dims, cwtypes.Dimension{Name: sdkaws.String("TenantSchema"), Value: sdkaws.String(tenantSchema)})
	}
	_, err := m.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(m.Namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: sdkaws.String("DeadLetters"),
			Dimensions: dims,
			Timestamp:  sdkaws.Time(m.nowFunc()),
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(1),
		}},
	})
	return err
}
