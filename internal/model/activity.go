package model

import "time"

// Activity kinds written to activity_logs.
const (
	ActionCreateUser = "create_user"
	ActionUpdateUser = "update_user"
	ActionDeleteUser = "delete_user"
	ActionReconcile  = "reconcile"
)

// ActivityLogEntry is an append-only audit record.  Rows are inserted in
// the same transaction as the change they describe and never updated.
type ActivityLogEntry struct {
	ID          uint64    `json:"id"`
	ActorID     uint64    `json:"actor_id"`
	ActorRole   Role      `json:"actor_role"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	EntityID    *uint64   `json:"entity_id,omitempty"`
	EntityType  *string   `json:"entity_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
