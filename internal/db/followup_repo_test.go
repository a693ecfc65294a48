package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"leadflow/internal/types"
)

func followUpRow(id string, claimedAt any) []any {
	return []any{id, "lead-1", "user-1", "2026-02-05", "09:00", "call back", false, false, claimedAt, nil}
}

func TestFollowUpRepository_ListDueFollowUps(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()
	claimed := time.Date(2026, 2, 5, 6, 50, 0, 0, time.UTC)

	rows := newMockRows([][]any{
		followUpRow("f1", nil),
		followUpRow("f2", claimed),
	})
	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "notified = FALSE") &&
			strings.Contains(sql, "scheduled_date <= $1::date") &&
			strings.Contains(sql, "notification_claimed_at")
	}), []any{"2026-02-07"}).Return(rows, nil)

	tasks, err := repo.ListDueFollowUps(ctx, "2026-02-07")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "f1", tasks[0].ID)
	assert.Equal(t, "2026-02-05", tasks[0].ScheduledDate)
	assert.Equal(t, "call back", tasks[0].Note)
	assert.Nil(t, tasks[0].NotificationClaimedAt)
	require.NotNil(t, tasks[1].NotificationClaimedAt)
	assert.True(t, tasks[1].NotificationClaimedAt.Equal(claimed))
	assert.True(t, rows.closed)
	db.AssertExpectations(t)
}

func TestFollowUpRepository_ListDueFollowUps_LegacySchema(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, false)
	ctx := context.Background()

	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return !strings.Contains(sql, "notification_claimed_at") && strings.Contains(sql, "NULL::timestamptz")
	}), mock.Anything).Return(newMockRows([][]any{followUpRow("f1", nil)}), nil)

	tasks, err := repo.ListDueFollowUps(ctx, "2026-02-07")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	db.AssertExpectations(t)
}

func TestFollowUpRepository_ListDueFollowUps_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.ListDueFollowUps(ctx, "2026-02-07")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestFollowUpRepository_ConditionalClaim_Won(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()
	now := time.Date(2026, 2, 5, 6, 56, 0, 0, time.UTC)

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "notified = FALSE") &&
			strings.Contains(sql, "notification_claimed_at IS NULL OR notification_claimed_at < $3")
	}), mock.MatchedBy(func(args []any) bool {
		if len(args) != 3 || args[0] != "f1" {
			return false
		}
		claimAt, ok1 := args[1].(time.Time)
		cutoff, ok2 := args[2].(time.Time)
		return ok1 && ok2 && claimAt.Equal(now) && claimAt.Sub(cutoff) == 15*time.Minute
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	claimed, err := repo.ConditionalClaim(ctx, "f1", now, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	db.AssertExpectations(t)
}

func TestFollowUpRepository_ConditionalClaim_Lost(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	claimed, err := repo.ConditionalClaim(ctx, "f1", time.Now(), time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "another dispatcher holds a live claim")
}

func TestFollowUpRepository_ConditionalClaim_MissingColumn(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "42703", Message: `column "notification_claimed_at" does not exist`})

	_, err := repo.ConditionalClaim(ctx, "f1", time.Now(), time.Minute)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalClaimUnsupported))
}

func TestFollowUpRepository_ConditionalClaim_LegacyRepo(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, false)

	_, err := repo.ConditionalClaim(context.Background(), "f1", time.Now(), time.Minute)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalClaimUnsupported))
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestFollowUpRepository_FinalizeNotified_ClearsClaim(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()
	now := time.Date(2026, 2, 5, 6, 56, 0, 0, time.UTC)

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "notification_claimed_at = NULL") && strings.Contains(sql, "notified = TRUE")
	}), []any{"f1", now}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.FinalizeNotified(ctx, "f1", now, true))
	db.AssertExpectations(t)
}

func TestFollowUpRepository_FinalizeNotified_LegacyLeavesClaimColumnAlone(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return !strings.Contains(sql, "notification_claimed_at")
	}), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.FinalizeNotified(ctx, "f1", time.Now(), false))
	db.AssertExpectations(t)
}

func TestFollowUpRepository_FinalizeNotified_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.FinalizeNotified(ctx, "missing", time.Now(), true)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundFollowUp))
}

func TestFollowUpRepository_ReleaseClaim(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "SET notification_claimed_at = NULL") && strings.Contains(sql, "notified = FALSE")
	}), []any{"f1"}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.ReleaseClaim(ctx, "f1"))
	db.AssertExpectations(t)
}

func TestFollowUpRepository_ReleaseClaim_LegacyIsNoop(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, false)

	require.NoError(t, repo.ReleaseClaim(context.Background(), "f1"))
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestFollowUpRepository_ListPendingForDigest(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "user_id = $1") &&
			!strings.Contains(sql, "notified = FALSE") &&
			strings.Contains(sql, "ORDER BY scheduled_date, scheduled_time")
	}), []any{"user-1", "2026-02-05"}).Return(newMockRows([][]any{followUpRow("f1", nil)}), nil)

	tasks, err := repo.ListPendingForDigest(ctx, "user-1", "2026-02-05")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	db.AssertExpectations(t)
}

func TestFollowUpRepository_ListDigestUsers(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "SELECT DISTINCT user_id")
	}), []any{"2026-02-07"}).Return(newMockRows([][]any{{"user-1"}, {"user-2"}}), nil)

	users, err := repo.ListDigestUsers(ctx, "2026-02-07")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, users)
}

func missingClaimColumn() error {
	return &pgconn.PgError{Code: "42703", Message: `column "notification_claimed_at" does not exist`}
}

func selectsClaimColumn(sql string) bool {
	return strings.Contains(sql, "notification_claimed_at, notified_at")
}

func TestFollowUpRepository_ListDueFollowUps_MissingClaimColumnFallsBack(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Query", ctx, mock.MatchedBy(selectsClaimColumn), mock.Anything).
		Return(nil, missingClaimColumn()).Once()
	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "NULL::timestamptz")
	}), []any{"2026-02-07"}).Return(newMockRows([][]any{followUpRow("f1", nil)}), nil).Once()

	tasks, err := repo.ListDueFollowUps(ctx, "2026-02-07")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "f1", tasks[0].ID)
	assert.False(t, repo.SupportsClaiming())
	db.AssertExpectations(t)

	_, err = repo.ConditionalClaim(ctx, "f1", time.Now(), time.Minute)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalClaimUnsupported))
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestFollowUpRepository_ListPendingForDigest_MissingClaimColumnFallsBack(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Query", ctx, mock.MatchedBy(selectsClaimColumn), mock.Anything).
		Return(nil, missingClaimColumn()).Once()
	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "NULL::timestamptz") && strings.Contains(sql, "ORDER BY")
	}), []any{"user-1", "2026-02-05"}).Return(newMockRows([][]any{followUpRow("f1", nil)}), nil).Once()

	tasks, err := repo.ListPendingForDigest(ctx, "user-1", "2026-02-05")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.False(t, repo.SupportsClaiming())
}

func TestFollowUpRepository_ListDueFollowUps_OtherErrorsKeepClaiming(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused")).Once()

	_, err := repo.ListDueFollowUps(ctx, "2026-02-07")
	require.Error(t, err)
	assert.True(t, repo.SupportsClaiming())
	db.AssertNumberOfCalls(t, "Query", 1)
}

func TestFollowUpRepository_ConditionalClaim_MissingColumnDisablesClaiming(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, missingClaimColumn())

	_, err := repo.ConditionalClaim(ctx, "f1", time.Now(), time.Minute)
	require.Error(t, err)
	assert.False(t, repo.SupportsClaiming())
}

func TestFollowUpRepository_FinalizeNotified_MissingClaimColumnRetriesLegacy(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()
	now := time.Date(2026, 2, 5, 6, 56, 0, 0, time.UTC)

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "notification_claimed_at = NULL")
	}), mock.Anything).Return(pgconn.CommandTag{}, missingClaimColumn()).Once()
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return !strings.Contains(sql, "notification_claimed_at")
	}), []any{"f1", now}).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()

	require.NoError(t, repo.FinalizeNotified(ctx, "f1", now, true))
	assert.False(t, repo.SupportsClaiming())
	db.AssertExpectations(t)
}

func TestFollowUpRepository_ReleaseClaim_MissingClaimColumnIsNoop(t *testing.T) {
	db := new(mockDBTX)
	repo := NewFollowUpRepository(db, true)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, missingClaimColumn()).Once()

	require.NoError(t, repo.ReleaseClaim(ctx, "f1"))
	assert.False(t, repo.SupportsClaiming())

	require.NoError(t, repo.ReleaseClaim(ctx, "f1"))
	db.AssertNumberOfCalls(t, "Exec", 1)
}
