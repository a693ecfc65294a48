package core

import (
	"context"
	"time"

	"leadflow/internal/scheduler"
)

// CycleRunner runs one reminder cycle evaluated at now.
type CycleRunner interface {
	RunAt(ctx context.Context, now time.Time) (scheduler.CycleReport, error)
}

// RunTrigger hands a run request to the asynchronous path.
type RunTrigger interface {
	Enabled() bool
	Enqueue(ctx context.Context, payload scheduler.CyclePayload) (messageID string, err error)
}
