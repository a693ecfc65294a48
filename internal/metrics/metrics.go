// Package metrics records reminder delivery outcomes. The worker exposes
// them to Prometheus; the Lambda publishes them to CloudWatch.
package metrics

import (
	"context"
	"time"
)

// Result labels the outcome of a reminder or digest attempt.
type Result string

const (
	ResultDelivered   Result = "delivered"
	ResultFailed      Result = "failed"
	ResultSkippedHeld Result = "skipped_held"
	ResultDeduped     Result = "deduped"
)

// Metric names and dimensions shared by the backends.
const (
	MetricReminderAttempt = "ReminderAttempt"
	MetricDigestAttempt   = "DigestAttempt"
	MetricCycleDuration   = "CycleDuration"
	MetricCycleCandidates = "CycleCandidates"
	MetricLegacyMode      = "ClaimLegacyMode"

	DimResult = "Result"
)

// CycleStats is the per-cycle summary a Recorder observes.
type CycleStats struct {
	Duration   time.Duration
	Candidates int
	Delivered  int
	Failed     int
	LegacyMode bool
	Aborted    bool
}

// Recorder receives delivery outcomes. Implementations must not block the
// cycle on backend failures.
type Recorder interface {
	RecordReminder(ctx context.Context, result Result)
	RecordDigest(ctx context.Context, result Result)
	RecordCycle(ctx context.Context, stats CycleStats)
}

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordReminder(context.Context, Result)   {}
func (Nop) RecordDigest(context.Context, Result)     {}
func (Nop) RecordCycle(context.Context, CycleStats) {}
