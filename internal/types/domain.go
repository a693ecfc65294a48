package types

import "time"

// DateLayout and ClockLayout are the wire formats for a follow-up's local
// calendar date and wall-clock time.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Reminder lead-time bounds, in minutes before the scheduled time.
const (
	MinLeadMinutes     = 0
	MaxLeadMinutes     = 24 * 60
	DefaultLeadMinutes = 15
)

// FollowUpTask is a scheduled reminder tied to a lead and owned by a user.
// ScheduledDate and ScheduledTime carry no zone; they are interpreted in
// the owning user's zone.
type FollowUpTask struct {
	ID            string `json:"id"`
	LeadID        string `json:"lead_id"`
	UserID        string `json:"user_id"`
	ScheduledDate string `json:"scheduled_date"` // YYYY-MM-DD
	ScheduledTime string `json:"scheduled_time"` // HH:MM, 24h
	Note          string `json:"note,omitempty"`
	Completed     bool   `json:"completed"`
	Notified      bool   `json:"notified"`

	// NotificationClaimedAt is only populated when the store supports
	// claiming. Notified implies it is nil.
	NotificationClaimedAt *time.Time `json:"notification_claimed_at,omitempty"`
	NotifiedAt            *time.Time `json:"notified_at,omitempty"`
}

// ReminderProfile is the subset of a user's account settings the reminder
// core reads. Stores fill absent columns with defaults (enabled, default
// lead minutes) rather than failing.
type ReminderProfile struct {
	UserID              string `json:"user_id"`
	Email               string `json:"email"`
	DisplayName         string `json:"display_name,omitempty"`
	Timezone            string `json:"timezone"`
	ReminderEnabled     bool   `json:"reminder_enabled"`
	ReminderLeadMinutes int    `json:"reminder_lead_minutes"`
}

// DefaultReminderProfile returns the profile used when a user has no stored
// reminder settings.
func DefaultReminderProfile(userID string, leadMinutes int) ReminderProfile {
	return ReminderProfile{
		UserID:              userID,
		ReminderEnabled:     true,
		ReminderLeadMinutes: ClampLeadMinutes(leadMinutes),
	}
}

// ClampLeadMinutes bounds a lead time to [MinLeadMinutes, MaxLeadMinutes].
func ClampLeadMinutes(m int) int {
	if m < MinLeadMinutes {
		return MinLeadMinutes
	}
	if m > MaxLeadMinutes {
		return MaxLeadMinutes
	}
	return m
}

// Lead is the contact a follow-up refers to. Only the fields rendered into
// notifications are loaded.
type Lead struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// SendInput is a fully rendered email handed to an email provider.
type SendInput struct {
	To          string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string // correlates provider events with a task or digest
}

// SenderIdentity defines the sender for outgoing emails.
type SenderIdentity struct {
	Name    string
	Address string
}
