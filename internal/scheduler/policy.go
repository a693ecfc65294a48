package scheduler

import (
	"fmt"
	"time"

	"leadflow/internal/timezone"
	"leadflow/internal/types"
)

const minutesPerDay = 24 * 60

// TriggerPoint is the local date and minute-of-day at which a reminder
// becomes due.
type TriggerPoint struct {
	Date   string // YYYY-MM-DD
	Minute int    // minutes since local midnight
}

// Clock formats the trigger minute as HH:MM.
func (t TriggerPoint) Clock() string {
	return fmt.Sprintf("%02d:%02d", t.Minute/60, t.Minute%60)
}

// DueBy reports whether the trigger is at or before the given local date
// and minute.
func (t TriggerPoint) DueBy(date string, minute int) bool {
	if t.Date != date {
		return t.Date < date
	}
	return t.Minute <= minute
}

// ComputeTrigger subtracts the lead time from the scheduled local date and
// time. A lead that crosses midnight moves the trigger to the previous day.
// The lead is clamped to [0, 1440].
func ComputeTrigger(scheduledDate, scheduledTime string, leadMinutes int) (TriggerPoint, error) {
	day, err := parseDate(scheduledDate)
	if err != nil {
		return TriggerPoint{}, err
	}
	hour, minute, err := parseClock(scheduledTime)
	if err != nil {
		return TriggerPoint{}, err
	}

	trigger := hour*60 + minute - types.ClampLeadMinutes(leadMinutes)
	if trigger < 0 {
		trigger += minutesPerDay
		day = day.AddDate(0, 0, -1)
	}
	return TriggerPoint{Date: day.Format(types.DateLayout), Minute: trigger}, nil
}

// Policy decides whether a follow-up's reminder is due.
type Policy struct {
	zones *timezone.Resolver
}

// NewPolicy creates a Policy that interprets profiles through zones.
func NewPolicy(zones *timezone.Resolver) *Policy {
	return &Policy{zones: zones}
}

// ShouldFireNow reports whether the reminder for task is due at now in the
// profile owner's zone. Disabled reminders, completed or notified tasks and
// malformed dates or times never fire.
func (p *Policy) ShouldFireNow(task types.FollowUpTask, profile types.ReminderProfile, now time.Time) bool {
	if !profile.ReminderEnabled {
		return false
	}
	if task.Completed || task.Notified {
		return false
	}

	trigger, err := ComputeTrigger(task.ScheduledDate, task.ScheduledTime, profile.ReminderLeadMinutes)
	if err != nil {
		return false
	}

	local := p.zones.ZonedParts(now, profile.Timezone)
	return trigger.DueBy(local.Date(), local.MinuteOfDay())
}

// parseClock parses a strict "HH:MM" string into hour and minute.
func parseClock(s string) (int, int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, types.NewAppError(types.ErrCodeValidationInvalidTime, fmt.Sprintf("expected HH:MM, got %q", s), nil)
	}
	t, err := time.Parse(types.ClockLayout, s)
	if err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeValidationInvalidTime, fmt.Sprintf("expected HH:MM, got %q", s), err)
	}
	return t.Hour(), t.Minute(), nil
}

// parseDate parses a strict "YYYY-MM-DD" string as a UTC midnight.
func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(types.DateLayout, s)
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidDate, fmt.Sprintf("expected YYYY-MM-DD, got %q", s), err)
	}
	return d, nil
}

// addDays shifts a YYYY-MM-DD date by n days.
func addDays(date string, n int) string {
	d, err := parseDate(date)
	if err != nil {
		return date
	}
	return d.AddDate(0, 0, n).Format(types.DateLayout)
}
