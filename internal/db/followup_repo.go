package db

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"leadflow/internal/types"
)

// FollowUpRepository provides data access for the follow_ups table. A
// repository with claiming disabled never references
// notification_claimed_at, so it runs against a schema that predates the
// claim migration.
//
// A claiming repository that hits undefined_column on the claim column
// disables claiming for the rest of its life and retries reads with the
// legacy column list.
type FollowUpRepository struct {
	db       DBTX
	claiming atomic.Bool
}

// NewFollowUpRepository creates a repository. claiming selects whether the
// notification_claimed_at column is read and written.
func NewFollowUpRepository(db DBTX, claiming bool) *FollowUpRepository {
	r := &FollowUpRepository{db: db}
	r.claiming.Store(claiming)
	return r
}

// SupportsClaiming reports whether the claim column is in use.
func (r *FollowUpRepository) SupportsClaiming() bool {
	return r.claiming.Load()
}

// DisableClaiming switches the repository to legacy statements.
func (r *FollowUpRepository) DisableClaiming() {
	r.claiming.Store(false)
}

// downgrade disables claiming when err is undefined_column and reports
// whether it did.
func (r *FollowUpRepository) downgrade(err error) bool {
	if !isUndefinedColumn(err) {
		return false
	}
	r.claiming.Store(false)
	return true
}

const (
	followUpColumns = `id, lead_id, user_id, to_char(scheduled_date, 'YYYY-MM-DD'), scheduled_time,
		COALESCE(note, ''), completed, notified, notification_claimed_at, notified_at`

	legacyFollowUpColumns = `id, lead_id, user_id, to_char(scheduled_date, 'YYYY-MM-DD'), scheduled_time,
		COALESCE(note, ''), completed, notified, NULL::timestamptz, notified_at`
)

func (r *FollowUpRepository) selectColumns() string {
	if r.claiming.Load() {
		return followUpColumns
	}
	return legacyFollowUpColumns
}

// queryFollowUps runs SELECT <columns> <tail>, retrying once with the
// legacy columns when the claim column turns out to be missing.
func (r *FollowUpRepository) queryFollowUps(ctx context.Context, msg, tail string, args ...any) ([]types.FollowUpTask, error) {
	columns := r.selectColumns()
	rows, err := r.db.Query(ctx, `SELECT `+columns+tail, args...)
	if err != nil && columns == followUpColumns && r.downgrade(err) {
		rows, err = r.db.Query(ctx, `SELECT `+legacyFollowUpColumns+tail, args...)
	}
	if err != nil {
		return nil, wrapDBError(err, msg)
	}
	return scanFollowUps(rows, msg)
}

// ListDueFollowUps returns open, un-notified follow-ups scheduled on or
// before horizonDate. There is no lower bound.
func (r *FollowUpRepository) ListDueFollowUps(ctx context.Context, horizonDate string) ([]types.FollowUpTask, error) {
	return r.queryFollowUps(ctx, "failed to list due follow-ups",
		`
		 FROM follow_ups
		 WHERE completed = FALSE AND notified = FALSE AND scheduled_date <= $1::date`,
		horizonDate,
	)
}

// ConditionalClaim takes the notification lease. The WHERE clause admits
// an unclaimed row or one whose claim is older than now-ttl; rows affected
// decides the winner.
func (r *FollowUpRepository) ConditionalClaim(ctx context.Context, taskID string, now time.Time, ttl time.Duration) (bool, error) {
	if !r.claiming.Load() {
		return false, types.NewAppError(types.ErrCodeInternalClaimUnsupported, "follow-up repository running without claim column", nil)
	}

	now = now.UTC()
	tag, err := r.db.Exec(ctx,
		`UPDATE follow_ups
		 SET notification_claimed_at = $2
		 WHERE id = $1
		   AND notified = FALSE
		   AND (notification_claimed_at IS NULL OR notification_claimed_at < $3)`,
		taskID,
		now,
		now.Add(-ttl),
	)
	if err != nil {
		r.downgrade(err)
		return false, wrapDBError(err, "failed to claim follow-up")
	}
	return tag.RowsAffected() > 0, nil
}

// FinalizeNotified marks the follow-up notified. The claim column is
// cleared only when clearClaim is set and the repository is claiming.
func (r *FollowUpRepository) FinalizeNotified(ctx context.Context, taskID string, now time.Time, clearClaim bool) error {
	const legacyQuery = `UPDATE follow_ups SET notified = TRUE, notified_at = $2 WHERE id = $1`
	query := legacyQuery
	if clearClaim && r.claiming.Load() {
		query = `UPDATE follow_ups
		 SET notified = TRUE, notified_at = $2, notification_claimed_at = NULL
		 WHERE id = $1`
	}

	tag, err := r.db.Exec(ctx, query, taskID, now.UTC())
	if err != nil && query != legacyQuery && r.downgrade(err) {
		tag, err = r.db.Exec(ctx, legacyQuery, taskID, now.UTC())
	}
	if err != nil {
		return wrapDBError(err, "failed to finalize follow-up")
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundFollowUp, "follow-up not found", nil)
	}
	return nil
}

// ReleaseClaim clears the lease of an un-notified follow-up. It is a no-op
// without the claim column.
func (r *FollowUpRepository) ReleaseClaim(ctx context.Context, taskID string) error {
	if !r.claiming.Load() {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE follow_ups
		 SET notification_claimed_at = NULL
		 WHERE id = $1 AND notified = FALSE`,
		taskID,
	)
	if err != nil {
		if r.downgrade(err) {
			return nil
		}
		return wrapDBError(err, "failed to release follow-up claim")
	}
	return nil
}

// ListPendingForDigest returns the user's open follow-ups scheduled on or
// before today, notified or not, in schedule order.
func (r *FollowUpRepository) ListPendingForDigest(ctx context.Context, userID string, today string) ([]types.FollowUpTask, error) {
	return r.queryFollowUps(ctx, "failed to list follow-ups for digest",
		`
		 FROM follow_ups
		 WHERE user_id = $1 AND completed = FALSE AND scheduled_date <= $2::date
		 ORDER BY scheduled_date, scheduled_time`,
		userID,
		today,
	)
}

// ListDigestUsers returns the distinct owners of open follow-ups scheduled
// on or before horizonDate.
func (r *FollowUpRepository) ListDigestUsers(ctx context.Context, horizonDate string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT user_id
		 FROM follow_ups
		 WHERE completed = FALSE AND scheduled_date <= $1::date`,
		horizonDate,
	)
	if err != nil {
		return nil, wrapDBError(err, "failed to list digest users")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError(err, "failed to scan digest user")
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError(err, "failed to iterate digest users")
	}
	return users, nil
}

func scanFollowUps(rows pgx.Rows, msg string) ([]types.FollowUpTask, error) {
	defer rows.Close()

	var tasks []types.FollowUpTask
	for rows.Next() {
		var t types.FollowUpTask
		if err := rows.Scan(
			&t.ID,
			&t.LeadID,
			&t.UserID,
			&t.ScheduledDate,
			&t.ScheduledTime,
			&t.Note,
			&t.Completed,
			&t.Notified,
			&t.NotificationClaimedAt,
			&t.NotifiedAt,
		); err != nil {
			return nil, wrapDBError(err, msg)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError(err, msg)
	}
	return tasks, nil
}
