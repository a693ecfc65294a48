package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"leadflow/internal/metrics"
	"leadflow/internal/notifications/email"
	"leadflow/internal/timezone"
	"leadflow/internal/types"
)

// Digest window defaults: 08:00 through 08:05 local time.
const (
	DefaultDigestHour          = 8
	DefaultDigestWindowMinutes = 5
)

// DigestWindow is the local wall-clock window a digest may go out in:
// minutes 0 through Minutes of Hour.
type DigestWindow struct {
	Hour    int
	Minutes int
}

// DefaultDigestWindow returns the 08:00-08:05 window.
func DefaultDigestWindow() DigestWindow {
	return DigestWindow{Hour: DefaultDigestHour, Minutes: DefaultDigestWindowMinutes}
}

// DigestConfig controls when the digest is sent and how. A nil Window
// means DefaultDigestWindow; a zero Hour is midnight, not "unset".
type DigestConfig struct {
	Window *DigestWindow
	NotifierConfig
}

// DigestScheduler sends each user at most one digest per local day, inside
// a short morning window. The ledger reservation is taken before sending,
// so instances sharing a durable ledger never both send; calls for the
// same user and day inside one process are also collapsed.
type DigestScheduler struct {
	tasks    TaskStore
	leads    LeadStore
	ledger   DigestLedger
	renderer Renderer
	sender   EmailSender
	zones    *timezone.Resolver
	metrics  metrics.Recorder
	cfg      DigestConfig
	window   DigestWindow
	logger   *slog.Logger

	flight singleflight.Group
}

// NewDigestScheduler creates a DigestScheduler. Out-of-range window fields
// fall back to the defaults.
func NewDigestScheduler(tasks TaskStore, leads LeadStore, ledger DigestLedger, renderer Renderer, sender EmailSender, zones *timezone.Resolver, rec metrics.Recorder, cfg DigestConfig, logger *slog.Logger) *DigestScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	window := DefaultDigestWindow()
	if cfg.Window != nil {
		window = *cfg.Window
	}
	if window.Hour < 0 || window.Hour > 23 {
		window.Hour = DefaultDigestHour
	}
	if window.Minutes < 0 || window.Minutes > 59 {
		window.Minutes = DefaultDigestWindowMinutes
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &DigestScheduler{
		tasks:    tasks,
		leads:    leads,
		ledger:   ledger,
		renderer: renderer,
		sender:   sender,
		zones:    zones,
		metrics:  rec,
		cfg:      cfg,
		window:   window,
		logger:   logger,
	}
}

// InWindow reports whether local falls inside the digest window.
func (d *DigestScheduler) InWindow(local timezone.Parts) bool {
	return local.Hour == d.window.Hour && local.Minute >= 0 && local.Minute <= d.window.Minutes
}

// MaybeSendDigest sends today's digest to userID if reminders are enabled,
// the user's local time is inside the window, at least one pending
// follow-up exists and the ledger slot for the local date can be reserved.
// It returns true only for the call that actually sent.
func (d *DigestScheduler) MaybeSendDigest(ctx context.Context, userID string, profile types.ReminderProfile, now time.Time) bool {
	if !profile.ReminderEnabled {
		return false
	}

	zone := d.zones.Resolve(profile.Timezone)
	local := d.zones.ZonedParts(now, zone)
	if !d.InWindow(local) {
		return false
	}
	today := local.Date()

	ran := false
	v, _, _ := d.flight.Do(userID+"|"+today, func() (any, error) {
		ran = true
		return d.send(ctx, userID, profile, today), nil
	})
	return ran && v.(bool)
}

func (d *DigestScheduler) send(ctx context.Context, userID string, profile types.ReminderProfile, today string) bool {
	log := d.logger.With("user_id", userID, "local_date", today)

	sent, err := d.ledger.SentOn(ctx, userID, today)
	if err != nil {
		log.ErrorContext(ctx, "digest ledger read failed, skipping", "error", err)
		return false
	}
	if sent {
		d.metrics.RecordDigest(ctx, metrics.ResultDeduped)
		return false
	}

	pending, err := d.tasks.ListPendingForDigest(ctx, userID, today)
	if err != nil {
		log.ErrorContext(ctx, "failed to list pending follow-ups for digest", "error", err)
		return false
	}
	data := d.buildDigest(ctx, profile, today, pending)
	if data.Total() == 0 {
		return false
	}

	if profile.Email == "" {
		log.WarnContext(ctx, "digest skipped: profile has no email address")
		d.metrics.RecordDigest(ctx, metrics.ResultFailed)
		return false
	}

	rendered, err := d.renderer.RenderDigest(data)
	if err != nil {
		log.ErrorContext(ctx, "failed to render digest", "error", err)
		d.metrics.RecordDigest(ctx, metrics.ResultFailed)
		return false
	}

	reserved, err := d.ledger.Reserve(ctx, userID, today)
	if err != nil {
		log.ErrorContext(ctx, "digest ledger reservation failed, skipping", "error", err)
		return false
	}
	if !reserved {
		d.metrics.RecordDigest(ctx, metrics.ResultDeduped)
		return false
	}

	msgID, err := sendWithTimeout(ctx, d.sender, types.SendInput{
		To:          profile.Email,
		From:        d.cfg.From,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: "digest:" + userID + ":" + today,
	}, d.cfg.SendTimeout)
	if err != nil {
		log.ErrorContext(ctx, "digest delivery failed", "error", err)
		d.metrics.RecordDigest(ctx, metrics.ResultFailed)
		if err := d.ledger.Release(context.WithoutCancel(ctx), userID, today); err != nil {
			log.ErrorContext(ctx, "failed to release digest reservation; no retry today",
				"error", err,
			)
		}
		return false
	}
	d.metrics.RecordDigest(ctx, metrics.ResultDelivered)

	log.InfoContext(ctx, "digest sent",
		"to", email.RedactEmail(profile.Email),
		"message_id", msgID,
		"overdue", len(data.Overdue),
		"due_today", len(data.DueToday),
	)
	return true
}

// buildDigest partitions pending follow-ups into overdue (before today) and
// due today, each ordered by date then time.
func (d *DigestScheduler) buildDigest(ctx context.Context, profile types.ReminderProfile, today string, pending []types.FollowUpTask) email.DigestData {
	data := email.DigestData{RecipientName: profile.DisplayName, Date: today}

	var open []types.FollowUpTask
	for _, t := range pending {
		if t.Completed || t.ScheduledDate > today {
			continue
		}
		open = append(open, t)
	}
	if len(open) == 0 {
		return data
	}

	sort.Slice(open, func(i, j int) bool {
		if open[i].ScheduledDate != open[j].ScheduledDate {
			return open[i].ScheduledDate < open[j].ScheduledDate
		}
		return open[i].ScheduledTime < open[j].ScheduledTime
	})

	leads := loadLeads(ctx, d.leads, open, d.logger)
	for _, t := range open {
		lead := leads[t.LeadID]
		item := email.DigestItem{
			LeadName:      lead.Name,
			LeadPhone:     lead.Phone,
			ScheduledDate: t.ScheduledDate,
			ScheduledTime: t.ScheduledTime,
			Note:          t.Note,
		}
		if item.LeadName == "" {
			item.LeadName = "Unknown lead"
		}
		if t.ScheduledDate < today {
			data.Overdue = append(data.Overdue, item)
		} else {
			data.DueToday = append(data.DueToday, item)
		}
	}
	return data
}

// loadLeads fetches the distinct leads referenced by tasks. A lookup
// failure is logged and yields an empty map so callers render placeholders.
func loadLeads(ctx context.Context, store LeadStore, tasks []types.FollowUpTask, logger *slog.Logger) map[string]types.Lead {
	seen := make(map[string]struct{}, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.LeadID == "" {
			continue
		}
		if _, ok := seen[t.LeadID]; ok {
			continue
		}
		seen[t.LeadID] = struct{}{}
		ids = append(ids, t.LeadID)
	}
	if len(ids) == 0 {
		return map[string]types.Lead{}
	}

	leads, err := store.ListLeadsByIDs(ctx, ids)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load leads, rendering placeholders",
			"lead_count", len(ids),
			"error", err,
		)
		return map[string]types.Lead{}
	}
	if leads == nil {
		leads = map[string]types.Lead{}
	}
	return leads
}
