package types

import (
	"errors"
	"time"
)

// ClaimPhase enumerates the notification states a follow-up moves through.
type ClaimPhase int

const (
	ClaimUnclaimed ClaimPhase = iota
	ClaimClaimed
	ClaimNotified
)

func (p ClaimPhase) String() string {
	switch p {
	case ClaimUnclaimed:
		return "unclaimed"
	case ClaimClaimed:
		return "claimed"
	case ClaimNotified:
		return "notified"
	default:
		return "unknown"
	}
}

var (
	// ErrClaimHeld is returned when another dispatcher holds a live claim.
	ErrClaimHeld = NewAppError(ErrCodeConflictClaimHeld, "follow-up is claimed by another dispatcher", nil)

	// ErrAlreadyNotified is returned for transitions out of the terminal
	// notified phase.
	ErrAlreadyNotified = NewAppError(ErrCodeConflictAlreadyNotified, "follow-up has already been notified", nil)
)

// ClaimState is the explicit Unclaimed | Claimed(at) | Notified view of a
// follow-up's notification lease. A claim taken at ClaimedAt is live while
// ClaimedAt >= now-ttl; older claims are expired and may be taken over.
//
// Transitions return a new value; the receiver is never mutated.
type ClaimState struct {
	Phase     ClaimPhase
	ClaimedAt time.Time
}

// ClaimStateOf derives the state from a stored task record.
func ClaimStateOf(t FollowUpTask) ClaimState {
	switch {
	case t.Notified:
		return ClaimState{Phase: ClaimNotified}
	case t.NotificationClaimedAt != nil:
		return ClaimState{Phase: ClaimClaimed, ClaimedAt: t.NotificationClaimedAt.UTC()}
	default:
		return ClaimState{Phase: ClaimUnclaimed}
	}
}

// Live reports whether the state is a claim that has not yet expired.
func (s ClaimState) Live(now time.Time, ttl time.Duration) bool {
	return s.Phase == ClaimClaimed && !s.ClaimedAt.Before(now.Add(-ttl))
}

// ExpiresAt returns the instant the claim stops being live. Zero for
// unclaimed and notified states.
func (s ClaimState) ExpiresAt(ttl time.Duration) time.Time {
	if s.Phase != ClaimClaimed {
		return time.Time{}
	}
	return s.ClaimedAt.Add(ttl)
}

// Claim takes the lease at now. Unclaimed and expired claims succeed; a live
// claim yields ErrClaimHeld and a notified task yields ErrAlreadyNotified.
func (s ClaimState) Claim(now time.Time, ttl time.Duration) (ClaimState, error) {
	switch s.Phase {
	case ClaimNotified:
		return s, ErrAlreadyNotified
	case ClaimClaimed:
		if s.Live(now, ttl) {
			return s, ErrClaimHeld
		}
	}
	return ClaimState{Phase: ClaimClaimed, ClaimedAt: now.UTC()}, nil
}

// Release drops the lease so the next cycle may retry immediately.
func (s ClaimState) Release() (ClaimState, error) {
	if s.Phase == ClaimNotified {
		return s, ErrAlreadyNotified
	}
	return ClaimState{Phase: ClaimUnclaimed}, nil
}

// MarkNotified moves to the terminal phase and clears any lease.
func (s ClaimState) MarkNotified() ClaimState {
	return ClaimState{Phase: ClaimNotified}
}

// ApplyTo writes the state back onto a task record. notifiedAt is used
// only when entering the notified phase.
func (s ClaimState) ApplyTo(t *FollowUpTask, notifiedAt time.Time) {
	switch s.Phase {
	case ClaimUnclaimed:
		t.Notified = false
		t.NotificationClaimedAt = nil
	case ClaimClaimed:
		at := s.ClaimedAt
		t.Notified = false
		t.NotificationClaimedAt = &at
	case ClaimNotified:
		t.Notified = true
		t.NotificationClaimedAt = nil
		if t.NotifiedAt == nil {
			at := notifiedAt.UTC()
			t.NotifiedAt = &at
		}
	}
}

// IsClaimConflict reports whether err is one of the claim transition
// conflicts.
func IsClaimConflict(err error) bool {
	return errors.Is(err, ErrClaimHeld) || errors.Is(err, ErrAlreadyNotified)
}
