package types

import "context"

type contextKey string

const (
	requestIDKey     contextKey = "request_id"
	triggerSourceKey contextKey = "trigger_source"
)

// TriggerSource names the path that started a reminder cycle.
type TriggerSource string

const (
	TriggerInterval TriggerSource = "interval"
	TriggerHTTP     TriggerSource = "http"
	TriggerSchedule TriggerSource = "eventbridge"
	TriggerQueue    TriggerSource = "sqs"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTriggerSource records which trigger started the current cycle.
func WithTriggerSource(ctx context.Context, src TriggerSource) context.Context {
	return context.WithValue(ctx, triggerSourceKey, src)
}

// GetTriggerSource returns the trigger recorded in ctx, or "" when unset.
func GetTriggerSource(ctx context.Context) TriggerSource {
	src, _ := ctx.Value(triggerSourceKey).(TriggerSource)
	return src
}
