package metrics

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Recorder = (*CloudWatchRecorder)(nil)

// CloudWatchRecorder publishes outcomes with PutMetricData. Failures are
// logged and dropped.
//
// Metrics emitted:
//   - ReminderAttempt, DigestAttempt: Dims {Result}
//   - CycleDuration (ms), CycleCandidates, ClaimLegacyMode: no dims
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a recorder that publishes to namespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchRecorder) RecordReminder(ctx context.Context, result Result) {
	m.put(ctx, countDatum(MetricReminderAttempt, result))
}

func (m *CloudWatchRecorder) RecordDigest(ctx context.Context, result Result) {
	m.put(ctx, countDatum(MetricDigestAttempt, result))
}

// RecordCycle emits the cycle duration, candidate count and legacy flag in
// a single PutMetricData call.
func (m *CloudWatchRecorder) RecordCycle(ctx context.Context, stats CycleStats) {
	legacy := 0.0
	if stats.LegacyMode {
		legacy = 1
	}
	m.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricCycleDuration),
			Value:      aws.Float64(float64(stats.Duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricCycleCandidates),
			Value:      aws.Float64(float64(stats.Candidates)),
			Unit:       cwtypes.StandardUnitCount,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricLegacyMode),
			Value:      aws.Float64(legacy),
			Unit:       cwtypes.StandardUnitNone,
		},
	)
}

func (m *CloudWatchRecorder) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metric",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

func countDatum(name string, result Result) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimResult), Value: aws.String(string(result))},
		},
	}
}
