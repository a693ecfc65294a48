package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"leadflow/internal/metrics"
	"leadflow/internal/timezone"
	"leadflow/internal/types"
)

// DefaultConcurrency is the number of candidates processed in parallel.
const DefaultConcurrency = 4

// Deps are the collaborators a Cycle is wired with. History and Metrics
// are optional.
type Deps struct {
	Tasks    TaskStore
	Profiles ProfileStore
	Leads    LeadStore
	Sender   EmailSender
	Renderer Renderer
	Ledger   DigestLedger
	History  JobHistorian
	Metrics  metrics.Recorder
	Zones    *timezone.Resolver
	Logger   *slog.Logger

	// Clock returns the current instant. Defaults to time.Now.
	Clock func() time.Time
}

// Options are the tunables of a Cycle. A nil DigestWindow selects
// DefaultDigestWindow.
type Options struct {
	HorizonDays      int
	ClaimTTL         time.Duration
	SupportsClaiming bool
	Concurrency      int
	Notifier         NotifierConfig
	DigestWindow     *DigestWindow
}

// Cycle runs one reminder tick: scan, evaluate, claim, notify, then the
// digest pass. Run may be called concurrently from several triggers; the
// claim coordinator provides the per-task mutual exclusion.
type Cycle struct {
	scanner  *Scanner
	policy   *Policy
	claims   *ClaimCoordinator
	notifier *Notifier
	digests  *DigestScheduler

	profiles    ProfileStore
	leads       LeadStore
	tasks       TaskStore
	history     JobHistorian
	metrics     metrics.Recorder
	clock       func() time.Time
	concurrency int
	logger      *slog.Logger
}

// NewCycle wires the scheduler components.
func NewCycle(deps Deps, opts Options) *Cycle {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	zones := deps.Zones
	if zones == nil {
		zones = timezone.NewResolver(timezone.DefaultZone)
	}
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	return &Cycle{
		scanner:  NewScanner(deps.Tasks, zones, opts.HorizonDays, logger),
		policy:   NewPolicy(zones),
		claims:   NewClaimCoordinator(deps.Tasks, opts.SupportsClaiming, opts.ClaimTTL, logger),
		notifier: NewNotifier(deps.Tasks, deps.Renderer, deps.Sender, zones, rec, opts.Notifier, logger),
		digests: NewDigestScheduler(deps.Tasks, deps.Leads, deps.Ledger, deps.Renderer, deps.Sender, zones, rec, DigestConfig{
			Window:         opts.DigestWindow,
			NotifierConfig: opts.Notifier,
		}, logger),
		profiles:    deps.Profiles,
		leads:       deps.Leads,
		tasks:       deps.Tasks,
		history:     deps.History,
		metrics:     rec,
		clock:       clock,
		concurrency: opts.Concurrency,
		logger:      logger,
	}
}

// LegacyMode reports whether claims are currently bypassed.
func (c *Cycle) LegacyMode() bool {
	return c.claims.LegacyMode()
}

// Run executes one cycle at the current instant.
func (c *Cycle) Run(ctx context.Context) (CycleReport, error) {
	return c.RunAt(ctx, c.clock())
}

// RunAt executes one cycle as of now. The returned error is non-nil only
// when listing candidates failed; per-task failures are logged and counted
// in the report.
func (c *Cycle) RunAt(ctx context.Context, now time.Time) (CycleReport, error) {
	started := time.Now()
	now = now.UTC()
	report := CycleReport{
		StartedAt: now,
		Horizon:   c.scanner.HorizonDate(now),
	}

	historyID := c.startHistory(ctx)

	candidates, err := c.scanner.Scan(ctx, now)
	if err != nil {
		report.Duration = time.Since(started)
		report.LegacyMode = c.claims.LegacyMode()
		c.logger.ErrorContext(ctx, "reminder cycle aborted: candidate scan failed",
			"horizon", report.Horizon,
			"error", err,
		)
		c.finishHistory(ctx, historyID, "failed", 0, err)
		c.metrics.RecordCycle(ctx, metrics.CycleStats{Duration: report.Duration, LegacyMode: report.LegacyMode, Aborted: true})
		return report, err
	}
	report.Candidates = len(candidates)

	leads := loadLeads(ctx, c.leads, candidates, c.logger)

	var counts cycleCounters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, task := range candidates {
		g.Go(func() error {
			c.processTask(gctx, task, leads, now, &counts)
			return nil
		})
	}
	_ = g.Wait()

	digestUsers, digestsSent := c.digestPass(ctx, report.Horizon, now)

	report.Due = int(counts.due.Load())
	report.Claimed = int(counts.claimed.Load())
	report.SkippedHeld = int(counts.skippedHeld.Load())
	report.Delivered = int(counts.delivered.Load())
	report.Failed = int(counts.failed.Load())
	report.Errors = int(counts.errors.Load())
	report.DigestUsers = digestUsers
	report.DigestsSent = digestsSent
	report.LegacyMode = c.claims.LegacyMode()
	report.Duration = time.Since(started)

	c.finishHistory(ctx, historyID, "success", report.Delivered+report.DigestsSent, nil)
	c.metrics.RecordCycle(ctx, metrics.CycleStats{
		Duration:   report.Duration,
		Candidates: report.Candidates,
		Delivered:  report.Delivered,
		Failed:     report.Failed,
		LegacyMode: report.LegacyMode,
	})

	c.logger.InfoContext(ctx, "reminder cycle complete",
		"trigger", string(types.GetTriggerSource(ctx)),
		"horizon", report.Horizon,
		"candidates", report.Candidates,
		"due", report.Due,
		"claimed", report.Claimed,
		"skipped_held", report.SkippedHeld,
		"delivered", report.Delivered,
		"failed", report.Failed,
		"errors", report.Errors,
		"digests_sent", report.DigestsSent,
		"legacy_mode", report.LegacyMode,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

type cycleCounters struct {
	due, claimed, skippedHeld, delivered, failed, errors atomic.Int64
}

// processTask evaluates, claims and notifies a single candidate. The
// profile is loaded here so a reminder disabled mid-cycle is honoured.
func (c *Cycle) processTask(ctx context.Context, task types.FollowUpTask, leads map[string]types.Lead, now time.Time, counts *cycleCounters) {
	profile, ok := c.loadProfile(ctx, task.UserID)
	if !ok {
		counts.errors.Add(1)
		return
	}
	if !c.policy.ShouldFireNow(task, profile, now) {
		return
	}
	counts.due.Add(1)

	claim := c.claims.TryClaim(ctx, task.ID, now)
	if !claim.Claimed {
		counts.skippedHeld.Add(1)
		c.metrics.RecordReminder(ctx, metrics.ResultSkippedHeld)
		return
	}
	counts.claimed.Add(1)

	lead, found := leads[task.LeadID]
	if !found {
		lead = types.Lead{ID: task.LeadID}
	}

	if c.notifier.NotifyAndFinalize(ctx, task, profile, lead, now, claim.LegacyMode) {
		counts.delivered.Add(1)
	} else {
		counts.failed.Add(1)
	}
}

// digestPass offers a digest to every user owning open follow-ups. Each
// user is isolated; failures are logged inside the digest scheduler.
func (c *Cycle) digestPass(ctx context.Context, horizon string, now time.Time) (users, sent int) {
	userIDs, err := c.tasks.ListDigestUsers(ctx, horizon)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to list digest users, skipping digest pass",
			"error", err,
		)
		return 0, 0
	}

	var sentCount atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, userID := range userIDs {
		g.Go(func() error {
			profile, ok := c.loadProfile(gctx, userID)
			if !ok {
				return nil
			}
			if c.digests.MaybeSendDigest(gctx, userID, profile, now) {
				sentCount.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(userIDs), int(sentCount.Load())
}

// loadProfile fetches reminder settings, filling defaults for absent
// values. Missing users and store errors skip the caller's work.
func (c *Cycle) loadProfile(ctx context.Context, userID string) (types.ReminderProfile, bool) {
	profile, err := c.profiles.GetUserProfile(ctx, userID)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundUser) {
			c.logger.InfoContext(ctx, "follow-up owner has no profile, skipping",
				"user_id", userID,
			)
		} else {
			c.logger.ErrorContext(ctx, "failed to load reminder profile",
				"user_id", userID,
				"error", err,
			)
		}
		return types.ReminderProfile{}, false
	}
	if profile.UserID == "" {
		profile.UserID = userID
	}
	return profile, true
}

func (c *Cycle) startHistory(ctx context.Context) int64 {
	if c.history == nil {
		return 0
	}
	id, err := c.history.Start(ctx, JobTypeReminderCycle)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to record cycle start", "error", err)
		return 0
	}
	return id
}

func (c *Cycle) finishHistory(ctx context.Context, id int64, status string, items int, runErr error) {
	if c.history == nil || id == 0 {
		return
	}
	if err := c.history.Finish(context.WithoutCancel(ctx), id, status, items, runErr); err != nil {
		c.logger.WarnContext(ctx, "failed to record cycle finish",
			"job_id", id,
			"error", err,
		)
	}
}
