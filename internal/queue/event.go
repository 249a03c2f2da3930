// Package queue defines the reconciliation task exchanged over RabbitMQ and
// the background consumer that executes it.
package queue

// ReconcileQueueName is the durable queue carrying ReconcileTask messages.
const ReconcileQueueName = "identity.reconcile"

// TaskKind names the repair a ReconcileTask asks for.
type TaskKind string

const (
	// TaskDeleteRemote removes a remote identity left behind by a create
	// whose local transaction failed and whose compensation also failed.
	TaskDeleteRemote TaskKind = "delete_remote"
	// TaskResyncRemote pushes the committed local email and username to the
	// remote record after a local update failed following a remote push.
	TaskResyncRemote TaskKind = "resync_remote"
	// TaskPurgeLocal deletes a local user whose remote identity is already
	// gone because the deletion commit failed.
	TaskPurgeLocal TaskKind = "purge_local"
)

// MaxAttempts bounds redelivery of a failing task.
const MaxAttempts = 5

// ReconcileTask is published when the two stores may have diverged.  It
// carries enough to repair the divergence without the original request.
type ReconcileTask struct {
	Kind      TaskKind `json:"kind"`
	UserID    uint64   `json:"user_id,omitempty"`
	RemoteRef string   `json:"remote_ref,omitempty"`
	Reason    string   `json:"reason"`
	Attempt   int      `json:"attempt"`
	CreatedAt string   `json:"created_at"`
}
