package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/account-admin/internal/model"
)

// ActivityRepo appends to and reads from activity_logs.  There is no
// update or delete: entries are immutable once written.
type ActivityRepo struct{ db *sql.DB }

func NewActivityRepo(db *sql.DB) *ActivityRepo { return &ActivityRepo{db: db} }

// InsertTx appends e inside the caller's transaction so the entry commits
// or rolls back together with the change it describes.
func (r *ActivityRepo) InsertTx(ctx context.Context, tx *sql.Tx, e model.ActivityLogEntry) error {
	const q = `INSERT INTO activity_logs (actor_id, actor_role, action, description, entity_id, entity_type) VALUES (?, ?, ?, ?, ?, ?)`
	var entityID, entityType any
	if e.EntityID != nil {
		entityID = *e.EntityID
	}
	if e.EntityType != nil {
		entityType = *e.EntityType
	}
	_, err := tx.ExecContext(ctx, q, e.ActorID, string(e.ActorRole), e.Action, e.Description, entityID, entityType)
	return err
}

// List returns the newest entries first.
func (r *ActivityRepo) List(ctx context.Context, limit, offset int) ([]model.ActivityLogEntry, error) {
	const q = `SELECT id, actor_id, actor_role, action, description, entity_id, entity_type, created_at
	           FROM activity_logs ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ActivityLogEntry{}
	for rows.Next() {
		var (
			e          model.ActivityLogEntry
			role       string
			entityID   sql.NullInt64
			entityType sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &role, &e.Action, &e.Description, &entityID, &entityType, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorRole = model.Role(role)
		if entityID.Valid {
			id := uint64(entityID.Int64)
			e.EntityID = &id
		}
		if entityType.Valid {
			e.EntityType = &entityType.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
