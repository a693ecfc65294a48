package db

import (
	"context"
	"time"

	"leadflow/internal/types"
)

// DigestDeliveryRepository is the durable digest ledger. One row per user
// and local date, written when the digest is reserved.
type DigestDeliveryRepository struct {
	db  DBTX
	now func() time.Time
}

// NewDigestDeliveryRepository creates a new DigestDeliveryRepository.
func NewDigestDeliveryRepository(db DBTX) *DigestDeliveryRepository {
	return &DigestDeliveryRepository{db: db, now: time.Now}
}

// SentOn reports whether a digest was recorded for userID on localDate.
func (r *DigestDeliveryRepository) SentOn(ctx context.Context, userID, localDate string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM digest_deliveries WHERE user_id = $1 AND local_date = $2::date
		)`,
		userID,
		localDate,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to read digest ledger", err)
	}
	return exists, nil
}

// Reserve inserts the delivery row before the digest is sent. The primary
// key admits one row per user and local date, so rows affected decides the
// single winner across instances.
func (r *DigestDeliveryRepository) Reserve(ctx context.Context, userID, localDate string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO digest_deliveries (user_id, local_date, sent_at)
		 VALUES ($1, $2::date, $3)
		 ON CONFLICT (user_id, local_date) DO NOTHING`,
		userID,
		localDate,
		r.now().UTC(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reserve digest delivery", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release deletes the row of a digest whose send failed.
func (r *DigestDeliveryRepository) Release(ctx context.Context, userID, localDate string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM digest_deliveries WHERE user_id = $1 AND local_date = $2::date`,
		userID,
		localDate,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release digest delivery", err)
	}
	return nil
}
