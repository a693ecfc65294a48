package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"leadflow/internal/metrics"
	"leadflow/internal/notifications/email"
	"leadflow/internal/timezone"
	"leadflow/internal/types"
)

const (
	// DefaultSendTimeout bounds a single email transmission.
	DefaultSendTimeout = 20 * time.Second

	// finalizeTimeout bounds the post-send bookkeeping write. It runs on a
	// context detached from the caller so a cancelled cycle still records
	// a delivered reminder.
	finalizeTimeout = 5 * time.Second
)

// NotifierConfig holds delivery settings shared by reminders and digests.
type NotifierConfig struct {
	From        types.SenderIdentity
	SendTimeout time.Duration
}

// Notifier renders and sends a single reminder, then settles the claim.
type Notifier struct {
	store    FinalizeStore
	renderer Renderer
	sender   EmailSender
	zones    *timezone.Resolver
	metrics  metrics.Recorder
	cfg      NotifierConfig
	logger   *slog.Logger
}

// NewNotifier creates a Notifier. A nil recorder discards metrics.
func NewNotifier(store FinalizeStore, renderer Renderer, sender EmailSender, zones *timezone.Resolver, rec metrics.Recorder, cfg NotifierConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Notifier{
		store:    store,
		renderer: renderer,
		sender:   sender,
		zones:    zones,
		metrics:  rec,
		cfg:      cfg,
		logger:   logger,
	}
}

// NotifyAndFinalize delivers the reminder for task and reports whether it
// was sent. On success the task is marked notified (clearing the claim
// unless legacy); a finalize failure is logged and the reminder still
// counts as delivered. On any send failure the claim is released so the
// next cycle retries, and the task is never marked notified.
func (n *Notifier) NotifyAndFinalize(ctx context.Context, task types.FollowUpTask, profile types.ReminderProfile, lead types.Lead, now time.Time, legacy bool) bool {
	log := n.logger.With(
		"task_id", task.ID,
		"user_id", task.UserID,
		"legacy_mode", legacy,
	)

	if err := n.deliver(ctx, task, profile, lead); err != nil {
		log.ErrorContext(ctx, "reminder delivery failed",
			"error", err,
		)
		n.metrics.RecordReminder(ctx, metrics.ResultFailed)
		if !legacy {
			n.release(ctx, log, task.ID)
		}
		return false
	}

	n.metrics.RecordReminder(ctx, metrics.ResultDelivered)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := n.store.FinalizeNotified(fctx, task.ID, now, !legacy); err != nil {
		log.ErrorContext(ctx, "reminder sent but finalize failed; it may be sent again",
			"error", err,
		)
	}
	return true
}

func (n *Notifier) deliver(ctx context.Context, task types.FollowUpTask, profile types.ReminderProfile, lead types.Lead) error {
	if profile.Email == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "profile has no email address", nil)
	}

	rendered, err := n.renderer.RenderReminder(email.ReminderData{
		RecipientName: profile.DisplayName,
		LeadName:      lead.Name,
		LeadPhone:     lead.Phone,
		ScheduledDate: task.ScheduledDate,
		ScheduledTime: task.ScheduledTime,
		Timezone:      n.zones.Resolve(profile.Timezone),
		Note:          task.Note,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalRender, "failed to render reminder", err)
	}

	msgID, err := sendWithTimeout(ctx, n.sender, types.SendInput{
		To:          profile.Email,
		From:        n.cfg.From,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: task.ID,
	}, n.cfg.SendTimeout)
	if err != nil {
		return err
	}

	n.logger.InfoContext(ctx, "reminder sent",
		"task_id", task.ID,
		"to", email.RedactEmail(profile.Email),
		"message_id", msgID,
	)
	return nil
}

func (n *Notifier) release(ctx context.Context, log *slog.Logger, taskID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := n.store.ReleaseClaim(rctx, taskID); err != nil {
		log.WarnContext(ctx, "failed to release claim; it will expire",
			"error", err,
		)
	}
}

// sendWithTimeout runs sender.Send bounded by timeout. A sender that
// panics or ignores its context is reported as a failure; the result
// channel is buffered so an abandoned send does not leak its goroutine
// beyond the sender's own return.
func sendWithTimeout(ctx context.Context, sender EmailSender, input types.SendInput, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		id  string
		err error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("email sender panicked: %v", r), nil)}
			}
		}()
		id, err := sender.Send(ctx, input)
		ch <- result{id: id, err: err}
	}()

	select {
	case r := <-ch:
		return r.id, r.err
	case <-ctx.Done():
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "email send timed out", ctx.Err())
	}
}
