// Package metrics emits operational metrics for the reconciliation handler
// and the scheduled batch jobs to AWS CloudWatch.
package metrics

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metric and dimension names.
const (
	MetricEventProcessed = "BillingEventProcessed"
	MetricBatchItems     = "BatchItems"

	DimEventType = "EventType"
	DimResult    = "Result"
	DimTask      = "Task"
)

// Result dimension values.
const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
)

// Recorder publishes counters to CloudWatch. Emission failures are logged
// and swallowed; metrics must never fail the operation being measured.
type Recorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewRecorder creates a Recorder publishing into the given namespace.
// A nil client produces a no-op recorder, for local development.
func NewRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordEvent counts one processed billing event by type and result.
func (r *Recorder) RecordEvent(ctx context.Context, eventType string, result string) {
	r.put(ctx, MetricEventProcessed, 1, []cwtypes.Dimension{
		{Name: aws.String(DimEventType), Value: aws.String(eventType)},
		{Name: aws.String(DimResult), Value: aws.String(result)},
	})
}

// RecordBatch counts the outcome of one scheduled batch run.
func (r *Recorder) RecordBatch(ctx context.Context, task string, success int, failed int) {
	r.put(ctx, MetricBatchItems, float64(success), []cwtypes.Dimension{
		{Name: aws.String(DimTask), Value: aws.String(task)},
		{Name: aws.String(DimResult), Value: aws.String(ResultSuccess)},
	})
	r.put(ctx, MetricBatchItems, float64(failed), []cwtypes.Dimension{
		{Name: aws.String(DimTask), Value: aws.String(task)},
		{Name: aws.String(DimResult), Value: aws.String(ResultFailed)},
	})
}

func (r *Recorder) put(ctx context.Context, name string, value float64, dims []cwtypes.Dimension) {
	if r.client == nil {
		return
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	}

	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.ErrorContext(ctx, "failed to put metric data",
			"metric", name,
			"error", err,
		)
	}
}
