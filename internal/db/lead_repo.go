package db

import (
	"context"

	"leadflow/internal/types"
)

// LeadRepository reads the lead fields rendered into reminders.
type LeadRepository struct {
	db DBTX
}

// NewLeadRepository creates a new LeadRepository.
func NewLeadRepository(db DBTX) *LeadRepository {
	return &LeadRepository{db: db}
}

// ListLeadsByIDs returns the requested leads keyed by id. Unknown ids are
// omitted.
func (r *LeadRepository) ListLeadsByIDs(ctx context.Context, ids []string) (map[string]types.Lead, error) {
	out := make(map[string]types.Lead, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, name, COALESCE(phone, '')
		 FROM leads
		 WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list leads", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l types.Lead
		if err := rows.Scan(&l.ID, &l.Name, &l.Phone); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan lead", err)
		}
		out[l.ID] = l
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate leads", err)
	}
	return out, nil
}
