// Package scheduler implements the follow-up reminder core: the due-time
// policy, the candidate scan, claim-based mutual exclusion, per-task
// notification, the daily digest, and the cycle that ties them together.
//
// Every collaborator (task store, profile store, email transport, digest
// ledger, metrics) is an interface declared here so that the worker, the
// HTTP trigger and the Lambda handler can wire PostgreSQL, SendGrid, Redis
// or in-memory implementations without changing cycle logic.
package scheduler

import (
	"context"
	"time"

	"leadflow/internal/notifications/email"
	"leadflow/internal/types"
)

// JobTypeReminderCycle is the job_history job_type for reminder cycles.
const JobTypeReminderCycle = "reminder_cycle"

// TaskStore is the follow-up data access the core consumes.
type TaskStore interface {
	// ListDueFollowUps returns tasks with completed=false, notified=false
	// and scheduled_date <= horizonDate. There is no lower bound and no
	// ordering guarantee.
	ListDueFollowUps(ctx context.Context, horizonDate string) ([]types.FollowUpTask, error)

	ClaimStore
	FinalizeStore

	// ListPendingForDigest returns the user's not-completed tasks scheduled
	// on or before today, notified or not.
	ListPendingForDigest(ctx context.Context, userID string, today string) ([]types.FollowUpTask, error)

	// ListDigestUsers returns the distinct owners of not-completed tasks
	// scheduled on or before horizonDate.
	ListDigestUsers(ctx context.Context, horizonDate string) ([]string, error)
}

// ClaimStore performs the atomic conditional claim.
type ClaimStore interface {
	// ConditionalClaim sets notification_claimed_at=now where notified=false
	// and the existing claim is absent or older than now-ttl. It reports
	// whether a row was claimed. A store without the claim column returns
	// an AppError with types.ErrCodeInternalClaimUnsupported.
	ConditionalClaim(ctx context.Context, taskID string, now time.Time, ttl time.Duration) (bool, error)
}

// ClaimCapability is implemented by stores that can lose claim support at
// runtime, such as a SQL store that discovers the claim column is missing.
// The coordinator and such a store share one legacy switch.
type ClaimCapability interface {
	SupportsClaiming() bool
	DisableClaiming()
}

// FinalizeStore settles a claimed follow-up after a send attempt.
type FinalizeStore interface {
	// FinalizeNotified sets notified=true and notified_at=now, clearing the
	// claim column when clearClaim is true.
	FinalizeNotified(ctx context.Context, taskID string, now time.Time, clearClaim bool) error

	// ReleaseClaim clears the claim column so the next cycle may retry.
	ReleaseClaim(ctx context.Context, taskID string) error
}

// ProfileStore loads reminder settings. Absent fields are filled with
// defaults; a missing user is an AppError with types.ErrCodeNotFoundUser.
type ProfileStore interface {
	GetUserProfile(ctx context.Context, userID string) (types.ReminderProfile, error)
}

// LeadStore loads the leads referenced by follow-ups, keyed by lead id.
// Unknown ids are omitted from the result.
type LeadStore interface {
	ListLeadsByIDs(ctx context.Context, ids []string) (map[string]types.Lead, error)
}

// EmailSender transmits a rendered email and returns the provider message id.
type EmailSender interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
}

// Renderer turns reminder and digest content into email bodies.
type Renderer interface {
	RenderReminder(data email.ReminderData) (email.RenderedEmail, error)
	RenderDigest(data email.DigestData) (email.RenderedEmail, error)
}

// DigestLedger tracks which users already have a digest for a local date.
// Implementations range from a process-local map to durable stores shared
// by every worker instance.
type DigestLedger interface {
	// SentOn reports whether userID's digest for localDate is reserved or
	// sent. It is a cheap pre-check; Reserve decides the winner.
	SentOn(ctx context.Context, userID string, localDate string) (bool, error)

	// Reserve atomically takes the (userID, localDate) slot. Exactly one
	// caller across all instances gets true and may send.
	Reserve(ctx context.Context, userID string, localDate string) (bool, error)

	// Release frees a reservation whose send failed so a later tick inside
	// the window can retry.
	Release(ctx context.Context, userID string, localDate string) error
}

// JobHistorian records cycle executions for operational visibility.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// CyclePayload is the JSON body accepted by the Lambda and SQS run-now
// paths. Both fields are optional.
//
//	{"reference_time": "2026-02-05T06:56:00Z", "requested_by": "crm-web"}
type CyclePayload struct {
	// ReferenceTime overrides "now" for backfills and manual invocation.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	RequestedBy   string     `json:"requested_by,omitempty" validate:"omitempty,max=64,printascii"`
}

// CycleReport summarizes one run. Counts are per candidate unless noted.
type CycleReport struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Horizon    string        `json:"horizon_date"`
	LegacyMode bool          `json:"legacy_mode"`

	Candidates  int `json:"candidates"`
	Due         int `json:"due"`
	Claimed     int `json:"claimed"`
	SkippedHeld int `json:"skipped_held"`
	Delivered   int `json:"delivered"`
	Failed      int `json:"failed"`
	Errors      int `json:"errors"` // profile lookup failures

	DigestUsers int `json:"digest_users"`
	DigestsSent int `json:"digests_sent"`
}
