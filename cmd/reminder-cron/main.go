// Package main is the Lambda entry point for scheduled and queued reminder
// cycles. One function serves both event sources:
//
//   - EventBridge scheduled events (the detail may carry a CyclePayload)
//   - SQS batches of run requests published by internal/queue
//
// A direct invocation with a bare CyclePayload JSON body is also accepted
// for manual backfills.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"leadflow/internal/app"
	"leadflow/internal/config"
	"leadflow/internal/core"
	"leadflow/internal/scheduler"
	"leadflow/internal/types"
)

var defaultValidator = core.NewValidator()

// CycleRunner runs one reminder cycle evaluated at now.
type CycleRunner interface {
	RunAt(ctx context.Context, now time.Time) (scheduler.CycleReport, error)
}

// PayloadValidator checks a decoded CyclePayload against its struct tags.
type PayloadValidator interface {
	Validate(dst any) error
}

// Handler holds the dependencies for the Lambda handler. A nil Validator
// uses the same rules as the HTTP trigger.
type Handler struct {
	Runner    CycleRunner
	Validator PayloadValidator
	Logger    *slog.Logger
	Clock     func() time.Time
}

// envelope sniffs which event source invoked the function.
type envelope struct {
	Records    []json.RawMessage `json:"Records"`
	DetailType string            `json:"detail-type"`
}

// Handle dispatches on the event shape. SQS batches return an
// events.SQSEventResponse so only failed run requests are redelivered;
// everything else returns the CycleReport.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "event is not a JSON object", err)
	}

	switch {
	case len(env.Records) > 0:
		var evt events.SQSEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "malformed SQS event", err)
		}
		return h.HandleSQS(ctx, evt)
	case env.DetailType != "":
		var evt events.CloudWatchEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "malformed EventBridge event", err)
		}
		return h.HandleScheduled(ctx, evt)
	default:
		var payload scheduler.CyclePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "malformed cycle payload", err)
		}
		if err := h.validator().Validate(&payload); err != nil {
			return nil, err
		}
		return h.runCycle(types.WithTriggerSource(ctx, types.TriggerSchedule), payload)
	}
}

// HandleScheduled runs one cycle for an EventBridge event. A non-empty
// detail object is read as a CyclePayload; an unreadable or invalid detail
// is ignored so the schedule still produces a cycle.
func (h *Handler) HandleScheduled(ctx context.Context, evt events.CloudWatchEvent) (scheduler.CycleReport, error) {
	var payload scheduler.CyclePayload
	if len(evt.Detail) > 0 && string(evt.Detail) != "null" {
		err := json.Unmarshal(evt.Detail, &payload)
		if err == nil {
			err = h.validator().Validate(&payload)
		}
		if err != nil {
			h.logger().WarnContext(ctx, "ignoring unreadable event detail",
				"event_id", evt.ID,
				"error", err,
			)
			payload = scheduler.CyclePayload{}
		}
	}
	return h.runCycle(types.WithTriggerSource(ctx, types.TriggerSchedule), payload)
}

// HandleSQS runs the cycles requested by a batch. Requests that share a
// reference time (including "now") are served by one cycle. Unreadable or
// invalid bodies are logged and dropped since redelivery cannot fix them.
func (h *Handler) HandleSQS(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
	logger := h.logger()
	ctx = types.WithTriggerSource(ctx, types.TriggerQueue)

	type group struct {
		payload    scheduler.CyclePayload
		messageIDs []string
	}
	var (
		order  []string
		groups = make(map[string]*group)
	)
	for _, record := range evt.Records {
		var payload scheduler.CyclePayload
		err := json.Unmarshal([]byte(record.Body), &payload)
		if err == nil {
			err = h.validator().Validate(&payload)
		}
		if err != nil {
			logger.ErrorContext(ctx, "dropping unreadable run request",
				"message_id", record.MessageId,
				"error", err,
			)
			continue
		}

		key := "now"
		if payload.ReferenceTime != nil {
			key = payload.ReferenceTime.UTC().Format(time.RFC3339Nano)
		}
		g, ok := groups[key]
		if !ok {
			g = &group{payload: payload}
			groups[key] = g
			order = append(order, key)
		}
		g.messageIDs = append(g.messageIDs, record.MessageId)
	}

	var resp events.SQSEventResponse
	for _, key := range order {
		g := groups[key]
		if _, err := h.runCycle(ctx, g.payload); err != nil {
			for _, id := range g.messageIDs {
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
			}
		}
	}

	if len(resp.BatchItemFailures) > 0 {
		logger.WarnContext(ctx, "run requests will be redelivered",
			"failed_count", len(resp.BatchItemFailures),
			"batch_size", len(evt.Records),
		)
	}
	return resp, nil
}

func (h *Handler) runCycle(ctx context.Context, payload scheduler.CyclePayload) (scheduler.CycleReport, error) {
	now := h.now()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	h.logger().InfoContext(ctx, "reminder cycle invoked",
		"trigger", types.GetTriggerSource(ctx),
		"reference_time", now.Format(time.RFC3339),
		"requested_by", payload.RequestedBy,
	)

	report, err := h.Runner.RunAt(ctx, now)
	if err != nil {
		h.logger().ErrorContext(ctx, "reminder cycle failed", "error", err)
		return report, fmt.Errorf("reminder cycle: %w", err)
	}
	return report, nil
}

func (h *Handler) validator() PayloadValidator {
	if h.Validator == nil {
		return defaultValidator
	}
	return h.Validator
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) now() time.Time {
	if h.Clock == nil {
		return time.Now().UTC()
	}
	return h.Clock().UTC()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("reminder Lambda initializing (cold start)", "version", cfg.Build.Version)

	rt, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	h := &Handler{Runner: rt.Cycle, Validator: core.NewValidator(), Logger: logger}

	// APP_ENV=local reads one event from stdin instead of starting the
	// Lambda runtime:
	//   echo '{"requested_by":"dev"}' | go run ./cmd/reminder-cron
	if cfg.Environment == "local" {
		err := runLocal(h, os.Stdin, os.Stdout)
		rt.Close()
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(h.Handle)
}

func runLocal(h *Handler, in io.Reader, out io.Writer) error {
	event, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(event) == 0 {
		return fmt.Errorf("no event on stdin")
	}
	result, err := h.Handle(context.Background(), event)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(result)
}
