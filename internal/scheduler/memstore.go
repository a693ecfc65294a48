package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"leadflow/internal/types"
)

// MemoryStore is an in-process TaskStore, ProfileStore and LeadStore for
// local runs and tests. Claim transitions go through types.ClaimState so it
// behaves like the SQL stores' conditional updates.
type MemoryStore struct {
	mu               sync.Mutex
	supportsClaiming bool
	tasks            map[string]types.FollowUpTask
	profiles         map[string]types.ReminderProfile
	leads            map[string]types.Lead
	defaultLead      int
}

var (
	_ TaskStore    = (*MemoryStore)(nil)
	_ ProfileStore = (*MemoryStore)(nil)
	_ LeadStore    = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store. When supportsClaiming is false the
// store behaves like a database without the claim column.
func NewMemoryStore(supportsClaiming bool) *MemoryStore {
	return &MemoryStore{
		supportsClaiming: supportsClaiming,
		tasks:            make(map[string]types.FollowUpTask),
		profiles:         make(map[string]types.ReminderProfile),
		leads:            make(map[string]types.Lead),
		defaultLead:      types.DefaultLeadMinutes,
	}
}

// PutTask inserts or replaces a follow-up.
func (s *MemoryStore) PutTask(t types.FollowUpTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.supportsClaiming {
		t.NotificationClaimedAt = nil
	}
	s.tasks[t.ID] = t
}

// PutProfile inserts or replaces a user's reminder settings.
func (s *MemoryStore) PutProfile(p types.ReminderProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

// PutLead inserts or replaces a lead.
func (s *MemoryStore) PutLead(l types.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = l
}

// Task returns a copy of the stored follow-up.
func (s *MemoryStore) Task(id string) (types.FollowUpTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *MemoryStore) ListDueFollowUps(_ context.Context, horizonDate string) ([]types.FollowUpTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.FollowUpTask
	for _, t := range s.tasks {
		if t.Completed || t.Notified || t.ScheduledDate > horizonDate {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) ConditionalClaim(_ context.Context, taskID string, now time.Time, ttl time.Duration) (bool, error) {
	if !s.supportsClaiming {
		return false, types.NewAppError(types.ErrCodeInternalClaimUnsupported, "store has no notification claim column", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return false, nil
	}
	next, err := types.ClaimStateOf(t).Claim(now, ttl)
	if err != nil {
		if types.IsClaimConflict(err) {
			return false, nil
		}
		return false, err
	}
	next.ApplyTo(&t, now)
	s.tasks[taskID] = t
	return true, nil
}

// FinalizeNotified marks the task notified. The claim is always cleared:
// a legacy store has none, and a notified task never holds one.
func (s *MemoryStore) FinalizeNotified(_ context.Context, taskID string, now time.Time, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundFollowUp, "follow-up not found", nil)
	}
	types.ClaimStateOf(t).MarkNotified().ApplyTo(&t, now)
	s.tasks[taskID] = t
	return nil
}

func (s *MemoryStore) ReleaseClaim(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	next, err := types.ClaimStateOf(t).Release()
	if err != nil {
		// Releasing a notified task is a no-op, matching the SQL guard.
		return nil
	}
	next.ApplyTo(&t, time.Time{})
	s.tasks[taskID] = t
	return nil
}

func (s *MemoryStore) ListPendingForDigest(_ context.Context, userID string, today string) ([]types.FollowUpTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.FollowUpTask
	for _, t := range s.tasks {
		if t.UserID != userID || t.Completed || t.ScheduledDate > today {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) ListDigestUsers(_ context.Context, horizonDate string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, t := range s.tasks {
		if t.Completed || t.ScheduledDate > horizonDate {
			continue
		}
		seen[t.UserID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// GetUserProfile returns the stored profile, or enabled defaults for users
// that own tasks but have no stored settings.
func (s *MemoryStore) GetUserProfile(_ context.Context, userID string) (types.ReminderProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.profiles[userID]; ok {
		p.ReminderLeadMinutes = types.ClampLeadMinutes(p.ReminderLeadMinutes)
		return p, nil
	}
	for _, t := range s.tasks {
		if t.UserID == userID {
			return types.DefaultReminderProfile(userID, s.defaultLead), nil
		}
	}
	return types.ReminderProfile{}, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (s *MemoryStore) ListLeadsByIDs(_ context.Context, ids []string) (map[string]types.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]types.Lead, len(ids))
	for _, id := range ids {
		if l, ok := s.leads[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}
