package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// ActivityRepo appends audit facts to the activity_log table. Inserts are
// best-effort from the caller's point of view; the async logger in
// internal/activity owns retry-or-drop policy.
type ActivityRepo struct{ db *sqlx.DB }

func NewActivityRepo(db *sqlx.DB) *ActivityRepo { return &ActivityRepo{db: db} }

// Insert appends one entry. metadata must be valid JSON (the logger
// marshals it before calling here).
func (r *ActivityRepo) Insert(ctx context.Context, userID *uint64, eventType string, metadata []byte) error {
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_log (user_id, event_type, metadata)
		VALUES ($1, $2, $3)`, userID, eventType, metadata)
	return err
}
