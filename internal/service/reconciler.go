package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/account-admin/internal/database"
	"github.com/iliyamo/account-admin/internal/identity"
	"github.com/iliyamo/account-admin/internal/model"
	"github.com/iliyamo/account-admin/internal/queue"
	"github.com/iliyamo/account-admin/internal/repository"
)

// Reconciler repairs divergence between the local store and the identity
// provider.  Every task is idempotent: running it twice, or after the
// divergence has been fixed by other means, is harmless.
type Reconciler struct {
	db       *sql.DB
	users    *repository.UserRepo
	activity *repository.ActivityRepo
	provider identity.Provider
	log      zerolog.Logger
	timeout  time.Duration
}

func NewReconciler(db *sql.DB, users *repository.UserRepo, activity *repository.ActivityRepo,
	provider identity.Provider, log zerolog.Logger, timeout time.Duration) *Reconciler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reconciler{db: db, users: users, activity: activity, provider: provider, log: log, timeout: timeout}
}

// Handle dispatches on the task kind.
func (r *Reconciler) Handle(ctx context.Context, t queue.ReconcileTask) error {
	switch t.Kind {
	case queue.TaskDeleteRemote:
		return r.deleteRemote(ctx, t)
	case queue.TaskResyncRemote:
		return r.resyncRemote(ctx, t)
	case queue.TaskPurgeLocal:
		return r.purgeLocal(ctx, t)
	}
	return fmt.Errorf("unknown task kind %q", t.Kind)
}

// deleteRemote removes an orphaned remote identity unless a local user
// still points at it.
func (r *Reconciler) deleteRemote(ctx context.Context, t queue.ReconcileTask) error {
	if t.RemoteRef == "" {
		return errors.New("delete_remote without remote_ref")
	}
	_, err := r.users.GetByRemoteRef(ctx, t.RemoteRef)
	switch {
	case err == nil:
		r.log.Warn().Str("remote_ref", t.RemoteRef).Msg("remote identity is linked to a local user; keeping it")
		return nil
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("look up remote_ref: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.provider.DeleteIdentity(cctx, t.RemoteRef); err != nil && !errors.Is(err, identity.ErrNotFound) {
		return err
	}
	return nil
}

// resyncRemote pushes the committed local email and username to the
// remote record.  A password pushed by the failed update cannot be
// restored; the user keeps the new one.
func (r *Reconciler) resyncRemote(ctx context.Context, t queue.ReconcileTask) error {
	u, err := r.users.GetByID(ctx, t.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.RemoteRef == nil {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.provider.UpdateIdentity(cctx, *u.RemoteRef, identity.Fields{Email: &u.Email, DisplayName: &u.Username})
}

// purgeLocal deletes a local user whose remote identity was already
// deleted.  The row is only removed while it still carries that remote
// reference.
func (r *Reconciler) purgeLocal(ctx context.Context, t queue.ReconcileTask) error {
	return database.WithTx(ctx, r.db, r.log, func(tx *sql.Tx) error {
		u, err := r.users.LockByIDTx(ctx, tx, t.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if u.RemoteRef == nil || *u.RemoteRef != t.RemoteRef {
			r.log.Warn().Uint64("user_id", t.UserID).Str("remote_ref", t.RemoteRef).
				Msg("local user no longer matches task; skipping purge")
			return nil
		}

		entityType := "user"
		if err := r.activity.InsertTx(ctx, tx, model.ActivityLogEntry{
			ActorID:     model.SystemActor.ID,
			ActorRole:   model.SystemActor.Role,
			Action:      model.ActionReconcile,
			Description: fmt.Sprintf("purged account %q after its remote identity was deleted", u.Username),
			EntityID:    &u.ID,
			EntityType:  &entityType,
		}); err != nil {
			return fmt.Errorf("write activity log: %w", err)
		}
		if err := r.users.DeleteTx(ctx, tx, u.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
}
