// Package queue publishes run requests (asynchronous "run one cycle now"
// asks) to SQS. The Lambda consumer in cmd/reminder-cron drains them.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"leadflow/internal/scheduler"
	"leadflow/internal/types"
)

// runRequestGroup is the single FIFO message group; cycles are global so
// there is nothing to partition by.
const runRequestGroup = "reminder-cycle"

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// RunTrigger enqueues run requests on the trigger queue.
type RunTrigger struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewRunTrigger creates a RunTrigger. An empty queueURL yields a trigger
// whose Enabled reports false.
func NewRunTrigger(client SQSSender, queueURL string, logger *slog.Logger) *RunTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunTrigger{client: client, queueURL: queueURL, logger: logger}
}

// Enabled reports whether a queue is configured.
func (t *RunTrigger) Enabled() bool {
	return t != nil && t.client != nil && t.queueURL != ""
}

// Enqueue sends payload as a run request and returns the SQS message id.
// FIFO queues get a fresh deduplication id per call so two explicit asks
// are never collapsed.
func (t *RunTrigger) Enqueue(ctx context.Context, payload scheduler.CyclePayload) (string, error) {
	if !t.Enabled() {
		return "", types.NewAppError(types.ErrCodeServiceUnavailable, "run request queue is not configured", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal run request", err)
	}

	requestID := types.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"request_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(requestID),
			},
		},
	}
	if payload.RequestedBy != "" {
		input.MessageAttributes["requested_by"] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(payload.RequestedBy),
		}
	}
	if strings.HasSuffix(t.queueURL, ".fifo") {
		input.MessageGroupId = aws.String(runRequestGroup)
		input.MessageDeduplicationId = aws.String(uuid.NewString())
	}

	out, err := t.client.SendMessage(ctx, input)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamQueue, "failed to enqueue run request", err)
	}

	msgID := aws.ToString(out.MessageId)
	t.logger.InfoContext(ctx, "run request enqueued",
		"queue_url", t.queueURL,
		"message_id", msgID,
		"request_id", requestID,
		"requested_by", payload.RequestedBy,
	)
	return msgID, nil
}
