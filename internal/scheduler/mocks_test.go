package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadflow/internal/notifications/email"
	"leadflow/internal/timezone"
	"leadflow/internal/types"
)

// --- Mocks ---

// recordingSender captures every Send call.
type recordingSender struct {
	mu    sync.Mutex
	sent  []types.SendInput
	err   error
	delay time.Duration
	panic bool
}

func (s *recordingSender) Send(ctx context.Context, in types.SendInput) (string, error) {
	if s.panic {
		panic("transport exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, in)
	return "msg-" + in.ReferenceID, nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *recordingSender) last() types.SendInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

// countingClaimStore wraps a ClaimStore and counts calls.
type countingClaimStore struct {
	inner ClaimStore
	mu    sync.Mutex
	calls int
}

func (c *countingClaimStore) ConditionalClaim(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.ConditionalClaim(ctx, id, now, ttl)
}

// errClaimStore fails every claim with err.
type errClaimStore struct{ err error }

func (e errClaimStore) ConditionalClaim(context.Context, string, time.Time, time.Duration) (bool, error) {
	return false, e.err
}

// flakyStore lets tests inject failures into a MemoryStore.
type flakyStore struct {
	*MemoryStore
	scanErr     error
	finalizeErr error
	digestErr   error
}

func (f *flakyStore) ListDueFollowUps(ctx context.Context, horizon string) ([]types.FollowUpTask, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.MemoryStore.ListDueFollowUps(ctx, horizon)
}

func (f *flakyStore) FinalizeNotified(ctx context.Context, id string, now time.Time, clear bool) error {
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	return f.MemoryStore.FinalizeNotified(ctx, id, now, clear)
}

func (f *flakyStore) ListDigestUsers(ctx context.Context, horizon string) ([]string, error) {
	if f.digestErr != nil {
		return nil, f.digestErr
	}
	return f.MemoryStore.ListDigestUsers(ctx, horizon)
}

// failingLeads always errors.
type failingLeads struct{}

func (failingLeads) ListLeadsByIDs(context.Context, []string) (map[string]types.Lead, error) {
	return nil, errors.New("leads table unavailable")
}

// memLedger is a minimal DigestLedger. Reserve is atomic under mu, like
// the durable ledgers' conditional writes.
type memLedger struct {
	mu         sync.Mutex
	sent       map[string]string
	releases   int
	readErr    error
	reserveErr error
	releaseErr error
}

func newMemLedger() *memLedger {
	return &memLedger{sent: make(map[string]string)}
}

func (l *memLedger) SentOn(_ context.Context, userID, date string) (bool, error) {
	if l.readErr != nil {
		return false, l.readErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent[userID] == date, nil
}

func (l *memLedger) Reserve(_ context.Context, userID, date string) (bool, error) {
	if l.reserveErr != nil {
		return false, l.reserveErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sent[userID] == date {
		return false, nil
	}
	l.sent[userID] = date
	return true, nil
}

func (l *memLedger) Release(_ context.Context, userID, date string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	if l.releaseErr != nil {
		return l.releaseErr
	}
	if l.sent[userID] == date {
		delete(l.sent, userID)
	}
	return nil
}

// recordingHistorian captures job_history calls.
type recordingHistorian struct {
	mu       sync.Mutex
	started  []string
	statuses []string
	items    []int
}

func (h *recordingHistorian) Start(_ context.Context, jobType string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, jobType)
	return int64(len(h.started)), nil
}

func (h *recordingHistorian) Finish(_ context.Context, _ int64, status string, items int, _ error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
	h.items = append(h.items, items)
	return nil
}

// --- Helpers ---

var harare = timezone.NewResolver("Africa/Harare")

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad time %q: %v", s, err)
	}
	return ts
}

func newRenderer(t *testing.T) *email.Renderer {
	t.Helper()
	r, err := email.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return r
}

func profile(userID string, lead int) types.ReminderProfile {
	return types.ReminderProfile{
		UserID:              userID,
		Email:               userID + "@example.com",
		DisplayName:         "User " + userID,
		Timezone:            "Africa/Harare",
		ReminderEnabled:     true,
		ReminderLeadMinutes: lead,
	}
}

func task(id, userID, date, clock string) types.FollowUpTask {
	return types.FollowUpTask{
		ID:            id,
		LeadID:        "lead-" + id,
		UserID:        userID,
		ScheduledDate: date,
		ScheduledTime: clock,
	}
}
