package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadflow/internal/types"
)

func newTestNotifier(t *testing.T, store FinalizeStore, sender EmailSender, timeout time.Duration) *Notifier {
	t.Helper()
	return NewNotifier(store, newRenderer(t), sender, harare, nil, NotifierConfig{
		From:        types.SenderIdentity{Name: "Leadflow", Address: "reminders@leadflow.test"},
		SendTimeout: timeout,
	}, nil)
}

func claimedStore(t *testing.T, now time.Time) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(true)
	tk := task("t1", "u1", "2026-02-05", "09:00")
	tk.Note = "Bring the quote"
	store.PutTask(tk)
	if ok, err := store.ConditionalClaim(context.Background(), "t1", now, 15*time.Minute); !ok || err != nil {
		t.Fatalf("setup claim failed: %v %v", ok, err)
	}
	return store
}

func TestNotifyAndFinalize_Success(t *testing.T) {
	now := mustTime(t, "2026-02-05T06:56:00Z")
	store := claimedStore(t, now)
	sender := &recordingSender{}
	n := newTestNotifier(t, store, sender, time.Second)

	tk, _ := store.Task("t1")
	ok := n.NotifyAndFinalize(context.Background(), tk, profile("u1", 5), types.Lead{ID: "lead-t1", Name: "Acme", Phone: "555"}, now, false)
	if !ok {
		t.Fatal("expected delivery")
	}

	got, _ := store.Task("t1")
	if !got.Notified || got.NotifiedAt == nil || !got.NotifiedAt.Equal(now) {
		t.Errorf("task not finalized: %+v", got)
	}
	if got.NotificationClaimedAt != nil {
		t.Error("claim should be cleared after finalize")
	}

	msg := sender.last()
	if msg.To != "u1@example.com" || msg.ReferenceID != "t1" {
		t.Errorf("unexpected send input: %+v", msg)
	}
	if !strings.Contains(msg.BodyText, "Acme") || !strings.Contains(msg.BodyText, "Bring the quote") {
		t.Errorf("body missing lead or note:\n%s", msg.BodyText)
	}
	if msg.From.Address != "reminders@leadflow.test" {
		t.Errorf("From = %+v", msg.From)
	}
}

func TestNotifyAndFinalize_TransportFailureReleasesClaim(t *testing.T) {
	now := mustTime(t, "2026-02-05T06:56:00Z")
	store := claimedStore(t, now)
	sender := &recordingSender{err: types.NewAppError(types.ErrCodeUpstreamUnavailable, "sendgrid 503", nil)}
	n := newTestNotifier(t, store, sender, time.Second)

	tk, _ := store.Task("t1")
	if n.NotifyAndFinalize(context.Background(), tk, profile("u1", 5), types.Lead{}, now, false) {
		t.Fatal("expected failure")
	}

	got, _ := store.Task("t1")
	if got.Notified {
		t.Error("failed send must not mark notified")
	}
	if got.NotificationClaimedAt != nil {
		t.Error("claim should be released for next-cycle retry")
	}
}

func TestNotifyAndFinalize_Timeout(t *testing.T) {
	now := mustTime(t, "2026-02-05T06:56:00Z")
	store := claimedStore(t, now)
	sender := &recordingSender{delay: time.Second}
	n := newTestNotifier(t, store, sender, 20*time.Millisecond)

	tk, _ := store.Task("t1")
	if n.NotifyAndFinalize(context.Background(), tk, profile("u1", 5), types.Lead{}, now, false) {
		t.Fatal("slow send should time out")
	}
	got, _ := store.Task("t1")
	if got.Notified || got.NotificationClaimedAt != nil {
		t.Errorf("timed-out send should release, got %+v", got)
	}
}

func TestNotifyAndFinalize_PanickingSenderIsFailure(t *testing.T) {
	now := mustTime(t, "2026-02-05T06:56:00Z")
	store := claimedStore(t, now)
	n := newTestNotifier(t, store, &recordingSender{panic: true}, time.Second)

	tk, _ := store.Task("t1")
	if n.NotifyAndFinalize(context.Background(), tk, profile("u1", 5), types.Lead{}, now, false) {
		t.Fatal("panicking sender should count as failure")
	}
}

func TestNotifyAndFinalize_MissingEmailIsFailure(t *testing.T) {
	now := mustTime(t, "2026-02-05T06:56:00Z")
	store := claimedStore(t, now)
	sender := &recordingSender{}
	n := newTestNotifier(t, store, sender, time.Second)

	p := profile("u1", 5)
	p.Email = ""
	tk, _ := store.Task("t1")
	if n.NotifyAndFinalize(context.Background(), tk, p, types.Lead{}, now, false) {
		t.Fatal("missing email should fail")
	}
	if sender.count() != 0 {
		t.Error("nothing should be sent without an address")
	}
	got, _ := store.Task("t1")
	if got.NotificationClaimedAt != nil {
		t.Error("claim should be released")
	}
}

func TestNotifyAndFinalize_FinalizeFailureStillDelivered(t *testing.T) {
	now := mustTime(t, "2026-02-05T06:56:00Z")
	store := &flakyStore{MemoryStore: claimedStore(t, now), finalizeErr: errors.New("connection reset")}
	n := newTestNotifier(t, store, &recordingSender{}, time.Second)

	tk, _ := store.Task("t1")
	if !n.NotifyAndFinalize(context.Background(), tk, profile("u1", 5), types.Lead{}, now, false) {
		t.Error("finalize failure after a successful send still counts as delivered")
	}
}

func TestNotifyAndFinalize_LegacyMode(t *testing.T) {
	now := mustTime(t, "2026-02-05T06:56:00Z")
	store := NewMemoryStore(false)
	store.PutTask(task("t1", "u1", "2026-02-05", "09:00"))
	sender := &recordingSender{}
	n := newTestNotifier(t, store, sender, time.Second)

	tk, _ := store.Task("t1")
	if !n.NotifyAndFinalize(context.Background(), tk, profile("u1", 5), types.Lead{}, now, true) {
		t.Fatal("expected delivery in legacy mode")
	}
	got, _ := store.Task("t1")
	if !got.Notified {
		t.Error("legacy mode still marks notified")
	}
	if !strings.Contains(sender.last().Subject, "a lead") {
		t.Errorf("missing lead should render placeholder, subject %q", sender.last().Subject)
	}
}
