package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"leadflow/internal/types"
)

// ProfileRepository reads reminder settings from user_profiles. NULL
// settings fall back to enabled reminders and the configured default lead
// time. A schema without the reminder columns is tolerated the same way.
type ProfileRepository struct {
	db          DBTX
	defaultLead int
}

// NewProfileRepository creates a repository that fills absent lead times
// with defaultLead.
func NewProfileRepository(db DBTX, defaultLead int) *ProfileRepository {
	return &ProfileRepository{db: db, defaultLead: types.ClampLeadMinutes(defaultLead)}
}

// GetUserProfile loads a user's reminder profile. A missing user yields
// ErrCodeNotFoundUser.
func (r *ProfileRepository) GetUserProfile(ctx context.Context, userID string) (types.ReminderProfile, error) {
	p := types.DefaultReminderProfile(userID, r.defaultLead)

	err := r.db.QueryRow(ctx,
		`SELECT email, COALESCE(display_name, ''), COALESCE(timezone, ''),
		        COALESCE(reminder_enabled, TRUE), COALESCE(reminder_lead_minutes, $2)
		 FROM user_profiles
		 WHERE user_id = $1`,
		userID,
		r.defaultLead,
	).Scan(&p.Email, &p.DisplayName, &p.Timezone, &p.ReminderEnabled, &p.ReminderLeadMinutes)

	if isUndefinedColumn(err) {
		return r.getBasicProfile(ctx, userID)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ReminderProfile{}, types.NewAppError(types.ErrCodeNotFoundUser, "user profile not found", err)
	}
	if err != nil {
		return types.ReminderProfile{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load user profile", err)
	}

	p.ReminderLeadMinutes = types.ClampLeadMinutes(p.ReminderLeadMinutes)
	return p, nil
}

// getBasicProfile reads only the identity columns and keeps defaults for
// the reminder settings.
func (r *ProfileRepository) getBasicProfile(ctx context.Context, userID string) (types.ReminderProfile, error) {
	p := types.DefaultReminderProfile(userID, r.defaultLead)

	err := r.db.QueryRow(ctx,
		`SELECT email, COALESCE(display_name, ''), COALESCE(timezone, '')
		 FROM user_profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&p.Email, &p.DisplayName, &p.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ReminderProfile{}, types.NewAppError(types.ErrCodeNotFoundUser, "user profile not found", err)
	}
	if err != nil {
		return types.ReminderProfile{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load user profile", err)
	}
	return p, nil
}
