package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadflow/internal/types"
)

type cycleFixture struct {
	store   *MemoryStore
	sender  *recordingSender
	history *recordingHistorian
	ledger  *memLedger
}

func newCycle(t *testing.T, f *cycleFixture, tasks TaskStore, leads LeadStore, supportsClaiming bool) *Cycle {
	t.Helper()
	if tasks == nil {
		tasks = f.store
	}
	if leads == nil {
		leads = f.store
	}
	return NewCycle(Deps{
		Tasks:    tasks,
		Profiles: f.store,
		Leads:    leads,
		Sender:   f.sender,
		Renderer: newRenderer(t),
		Ledger:   f.ledger,
		History:  f.history,
		Zones:    harare,
	}, Options{
		HorizonDays:      2,
		ClaimTTL:         15 * time.Minute,
		SupportsClaiming: supportsClaiming,
		Concurrency:      4,
		Notifier:         NotifierConfig{SendTimeout: time.Second},
		DigestWindow:     &DigestWindow{Hour: 8, Minutes: 5},
	})
}

func newCycleFixture(supportsClaiming bool) *cycleFixture {
	f := &cycleFixture{
		store:   NewMemoryStore(supportsClaiming),
		sender:  &recordingSender{},
		history: &recordingHistorian{},
		ledger:  newMemLedger(),
	}
	f.store.PutProfile(profile("u1", 5))
	f.store.PutProfile(profile("u2", 15))
	f.store.PutLead(types.Lead{ID: "lead-due", Name: "Due Lead"})

	f.store.PutTask(task("due", "u1", "2026-02-05", "09:00"))      // fires 08:55
	f.store.PutTask(task("later", "u1", "2026-02-05", "17:00"))    // not yet
	f.store.PutTask(task("overdue", "u2", "2026-02-01", "10:00"))  // missed earlier
	f.store.PutTask(task("far", "u2", "2026-02-20", "10:00"))      // beyond horizon
	done := task("done", "u2", "2026-02-05", "08:00")
	done.Completed = true
	f.store.PutTask(done)
	return f
}

// 08:56 Harare; outside the digest window.
const cycleNow = "2026-02-05T06:56:00Z"

func TestCycle_DeliversDueReminders(t *testing.T) {
	f := newCycleFixture(true)
	c := newCycle(t, f, nil, nil, true)

	report, err := c.RunAt(context.Background(), mustTime(t, cycleNow))
	if err != nil {
		t.Fatalf("RunAt() error: %v", err)
	}

	if report.Candidates != 3 {
		t.Errorf("Candidates = %d, want 3", report.Candidates)
	}
	if report.Due != 2 || report.Claimed != 2 || report.Delivered != 2 || report.Failed != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Horizon != "2026-02-07" {
		t.Errorf("Horizon = %q", report.Horizon)
	}
	if report.LegacyMode {
		t.Error("should not be in legacy mode")
	}

	for _, id := range []string{"due", "overdue"} {
		got, _ := f.store.Task(id)
		if !got.Notified {
			t.Errorf("task %s should be notified", id)
		}
	}
	if got, _ := f.store.Task("later"); got.Notified {
		t.Error("future task should not be notified")
	}

	if len(f.history.started) != 1 || f.history.started[0] != JobTypeReminderCycle {
		t.Errorf("history start = %v", f.history.started)
	}
	if f.history.statuses[0] != "success" || f.history.items[0] != 2 {
		t.Errorf("history finish = %v %v", f.history.statuses, f.history.items)
	}

	// A second run finds nothing left to send.
	again, err := c.RunAt(context.Background(), mustTime(t, cycleNow).Add(time.Minute))
	if err != nil {
		t.Fatalf("second RunAt() error: %v", err)
	}
	if again.Delivered != 0 || f.sender.count() != 2 {
		t.Errorf("reminders must be sent once: delivered=%d sends=%d", again.Delivered, f.sender.count())
	}
}

func TestCycle_OverlappingRunsSendOnce(t *testing.T) {
	f := newCycleFixture(true)
	f.sender.delay = 20 * time.Millisecond
	now := mustTime(t, cycleNow)

	// Separate Cycle values model separate processes sharing one store.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		c := newCycle(t, f, nil, nil, true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.RunAt(context.Background(), now); err != nil {
				t.Errorf("RunAt() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.sender.count() != 2 {
		t.Errorf("expected 2 reminder emails across overlapping runs, got %d", f.sender.count())
	}
}

func TestCycle_LegacyMode(t *testing.T) {
	f := newCycleFixture(false)
	c := newCycle(t, f, nil, nil, false)

	report, err := c.RunAt(context.Background(), mustTime(t, cycleNow))
	if err != nil {
		t.Fatalf("RunAt() error: %v", err)
	}
	if !report.LegacyMode || !c.LegacyMode() {
		t.Error("report should flag legacy mode")
	}
	if report.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", report.Delivered)
	}
	got, _ := f.store.Task("due")
	if !got.Notified || got.NotificationClaimedAt != nil {
		t.Errorf("legacy finalize: %+v", got)
	}
}

func TestCycle_AutoDowngradeWhenColumnMissing(t *testing.T) {
	f := newCycleFixture(false)
	// Startup believed claiming was available; the store disagrees.
	c := newCycle(t, f, nil, nil, true)

	report, err := c.RunAt(context.Background(), mustTime(t, cycleNow))
	if err != nil {
		t.Fatalf("RunAt() error: %v", err)
	}
	if !report.LegacyMode || report.Delivered != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestCycle_TransportFailureRetriedNextCycle(t *testing.T) {
	f := newCycleFixture(true)
	f.sender.err = errors.New("sendgrid unavailable")
	c := newCycle(t, f, nil, nil, true)
	now := mustTime(t, cycleNow)

	report, err := c.RunAt(context.Background(), now)
	if err != nil {
		t.Fatalf("RunAt() error: %v", err)
	}
	if report.Failed != 2 || report.Delivered != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	f.sender.mu.Lock()
	f.sender.err = nil
	f.sender.mu.Unlock()

	report, err = c.RunAt(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RunAt() error: %v", err)
	}
	if report.Delivered != 2 {
		t.Errorf("released tasks should be retried, delivered=%d", report.Delivered)
	}
}

func TestCycle_ScanFailureAborts(t *testing.T) {
	f := newCycleFixture(true)
	flaky := &flakyStore{MemoryStore: f.store, scanErr: types.NewAppError(types.ErrCodeInternalDB, "timeout", nil)}
	c := newCycle(t, f, flaky, nil, true)

	_, err := c.RunAt(context.Background(), mustTime(t, cycleNow))
	if err == nil {
		t.Fatal("expected scan failure to abort the cycle")
	}
	if f.sender.count() != 0 {
		t.Error("nothing should be sent")
	}
	if len(f.history.statuses) != 1 || f.history.statuses[0] != "failed" {
		t.Errorf("history = %v", f.history.statuses)
	}
}

func TestCycle_LeadLookupFailureUsesPlaceholder(t *testing.T) {
	f := newCycleFixture(true)
	c := newCycle(t, f, nil, failingLeads{}, true)

	report, err := c.RunAt(context.Background(), mustTime(t, cycleNow))
	if err != nil {
		t.Fatalf("RunAt() error: %v", err)
	}
	if report.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", report.Delivered)
	}
}

func TestCycle_MissingProfileUsesDefaults(t *testing.T) {
	f := newCycleFixture(true)
	f.store.PutTask(task("orphan", "u3", "2026-02-05", "08:00"))
	c := newCycle(t, f, nil, nil, true)

	report, err := c.RunAt(context.Background(), mustTime(t, cycleNow))
	if err != nil {
		t.Fatalf("RunAt() error: %v", err)
	}
	// u3 has no stored settings: defaults are enabled but carry no email,
	// so delivery fails and the claim is released.
	if report.Due != 3 || report.Failed != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	got, _ := f.store.Task("orphan")
	if got.Notified || got.NotificationClaimedAt != nil {
		t.Errorf("orphan task should be released: %+v", got)
	}
}

func TestCycle_DisabledMidCycleIsHonoured(t *testing.T) {
	f := newCycleFixture(true)
	p := profile("u1", 5)
	p.ReminderEnabled = false
	f.store.PutProfile(p)
	c := newCycle(t, f, nil, nil, true)

	report, err := c.RunAt(context.Background(), mustTime(t, cycleNow))
	if err != nil {
		t.Fatalf("RunAt() error: %v", err)
	}
	if got, _ := f.store.Task("due"); got.Notified {
		t.Error("disabled user's task must not be notified")
	}
	if report.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", report.Delivered)
	}
}

func TestCycle_DigestPass(t *testing.T) {
	f := newCycleFixture(true)
	c := newCycle(t, f, nil, nil, true)

	// 08:02 Harare: inside the digest window.
	report, err := c.RunAt(context.Background(), mustTime(t, "2026-02-05T06:02:00Z"))
	if err != nil {
		t.Fatalf("RunAt() error: %v", err)
	}
	if report.DigestUsers != 2 {
		t.Errorf("DigestUsers = %d, want 2", report.DigestUsers)
	}
	if report.DigestsSent != 2 {
		t.Errorf("DigestsSent = %d, want 2", report.DigestsSent)
	}

	again, _ := c.RunAt(context.Background(), mustTime(t, "2026-02-05T06:03:00Z"))
	if again.DigestsSent != 0 {
		t.Errorf("digests must not repeat the same day, sent %d", again.DigestsSent)
	}
}

func TestCycle_DigestUserListingFailureIsIsolated(t *testing.T) {
	f := newCycleFixture(true)
	flaky := &flakyStore{MemoryStore: f.store, digestErr: errors.New("boom")}
	c := newCycle(t, f, flaky, nil, true)

	report, err := c.RunAt(context.Background(), mustTime(t, "2026-02-05T06:02:00Z"))
	if err != nil {
		t.Fatalf("digest failures must not fail the cycle: %v", err)
	}
	if report.DigestsSent != 0 {
		t.Errorf("DigestsSent = %d", report.DigestsSent)
	}
}

func TestCycle_RunUsesClock(t *testing.T) {
	f := newCycleFixture(true)
	c := NewCycle(Deps{
		Tasks:    f.store,
		Profiles: f.store,
		Leads:    f.store,
		Sender:   f.sender,
		Renderer: newRenderer(t),
		Ledger:   f.ledger,
		Zones:    harare,
		Clock:    func() time.Time { return mustTime(t, cycleNow) },
	}, Options{HorizonDays: 2, SupportsClaiming: true})

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !report.StartedAt.Equal(mustTime(t, cycleNow)) || report.Delivered != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
}
