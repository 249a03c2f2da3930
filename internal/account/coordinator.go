// Package account coordinates every change to an account across the local
// MySQL store and the remote identity provider.
//
// Each operation either leaves both stores changed or neither.  When that
// cannot be guaranteed inline (a compensating call fails, or a commit fails
// after the remote side already changed) the divergence is logged and a
// repair task is handed to the Reconciler.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/iliyamo/account-admin/internal/database"
	"github.com/iliyamo/account-admin/internal/identity"
	"github.com/iliyamo/account-admin/internal/logger"
	"github.com/iliyamo/account-admin/internal/model"
	"github.com/iliyamo/account-admin/internal/queue"
	"github.com/iliyamo/account-admin/internal/repository"
)

// DefaultRemoteTimeout bounds a single identity provider call when Deps
// does not set one.
const DefaultRemoteTimeout = 5 * time.Second

// Reconciler accepts repair tasks for divergence that could not be undone
// inline.
type Reconciler interface {
	Enqueue(ctx context.Context, t queue.ReconcileTask) error
}

// Deps wires a Coordinator.  Reconciler may be nil, in which case repair
// tasks are only logged.
type Deps struct {
	DB            *sql.DB
	Users         *repository.UserRepo
	Profiles      *repository.ProfileRepo
	Activity      *repository.ActivityRepo
	Bookings      *repository.BookingRepo
	Provider      identity.Provider
	Reconciler    Reconciler
	Logger        zerolog.Logger
	RemoteTimeout time.Duration
}

// Coordinator is safe for concurrent use.  Mutations of the same account
// serialize on the users row lock.
type Coordinator struct {
	db            *sql.DB
	users         *repository.UserRepo
	profiles      *repository.ProfileRepo
	activity      *repository.ActivityRepo
	bookings      *repository.BookingRepo
	provider      identity.Provider
	reconciler    Reconciler
	log           zerolog.Logger
	remoteTimeout time.Duration
	validator     *validator.Validate
}

func New(d Deps) *Coordinator {
	timeout := d.RemoteTimeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &Coordinator{
		db:            d.DB,
		users:         d.Users,
		profiles:      d.Profiles,
		activity:      d.Activity,
		bookings:      d.Bookings,
		provider:      d.Provider,
		reconciler:    d.Reconciler,
		log:           logger.Component(d.Logger, "account"),
		remoteTimeout: timeout,
		validator:     newValidator(),
	}
}

// CreateAccount creates the remote identity first and then the local
// records in one transaction.  If anything local fails the remote identity
// is deleted again.
func (c *Coordinator) CreateAccount(ctx context.Context, in CreateInput, actor model.Actor) (*model.Identity, error) {
	in.normalize()
	if err := c.validate(&in); err != nil {
		return nil, err
	}
	if err := checkUsername(in.Username); err != nil {
		return nil, err
	}
	if err := Authorize(actor, Rule{Roles: AdminRoles, Target: in.Role}); err != nil {
		return nil, err
	}
	if !in.Role.HasProfile() && (in.FirstName != nil || in.LastName != nil) {
		return nil, validationErr(fmt.Sprintf("role %s has no profile", in.Role))
	}

	taken, err := c.users.UsernameTaken(ctx, in.Username, 0)
	if err != nil {
		return nil, localErr("check username", err)
	}
	if taken {
		return nil, conflictErr("username already taken")
	}

	ref, err := c.remoteCreate(ctx, in.Email, in.Password, in.Username)
	if err != nil {
		return nil, remoteErr("create remote identity", err)
	}

	var created *model.Identity
	err = database.WithTx(ctx, c.db, c.log, func(tx *sql.Tx) error {
		if _, err := c.users.InsertTx(ctx, tx, repository.NewUser{
			Username:     in.Username,
			Email:        in.Email,
			Role:         in.Role,
			MobileNumber: in.MobileNumber,
			RemoteRef:    ref,
			CreatedBy:    actor.ID,
		}); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		u, err := c.users.GetByRemoteRefTx(ctx, tx, ref)
		if err != nil {
			return fmt.Errorf("re-read user: %w", err)
		}
		if u.Role.HasProfile() {
			prof := model.RoleProfile{UserID: u.ID, FirstName: deref(in.FirstName), LastName: deref(in.LastName)}
			if err := c.profiles.InsertTx(ctx, tx, u.Role, prof); err != nil {
				return fmt.Errorf("insert profile: %w", err)
			}
			u.Profile = &prof
		}
		desc := fmt.Sprintf("created %s account %q", u.Role, u.Username)
		if err := c.activity.InsertTx(ctx, tx, entry(actor, model.ActionCreateUser, u.ID, desc)); err != nil {
			return fmt.Errorf("write activity log: %w", err)
		}
		created = u
		return nil
	})
	if err != nil {
		e := localErr("create local account", err)
		if errors.Is(err, repository.ErrDuplicate) {
			e = newErr(KindConflict, "username or email already exists", err)
		}
		c.compensateCreate(ctx, ref, e)
		return nil, e
	}

	c.log.Info().Uint64("user_id", created.ID).Str("remote_ref", ref).
		Uint64("actor_id", actor.ID).Msg("account created")
	return created, nil
}

// compensateCreate removes the remote identity of a failed create.  Its own
// failure is attached to cause and handed to the reconciler.
func (c *Coordinator) compensateCreate(ctx context.Context, ref string, cause *Error) {
	ctx = context.WithoutCancel(ctx)
	if err := c.remoteDelete(ctx, ref); err != nil {
		cause.Compensation = err
		c.log.Error().Err(err).AnErr("cause", cause.Err).Str("remote_ref", ref).
			Msg("compensating remote delete failed; remote identity is orphaned")
		c.enqueue(ctx, queue.ReconcileTask{
			Kind:      queue.TaskDeleteRemote,
			RemoteRef: ref,
			Reason:    "local create failed: " + cause.Err.Error(),
		})
		return
	}
	c.log.Warn().AnErr("cause", cause.Err).Str("remote_ref", ref).
		Msg("local create failed; remote identity removed")
}

// UpdateAccount applies a partial update.  Fields mirrored on the remote
// record (email, username, password) are pushed to the provider while the
// users row is locked and before any local write; a provider failure
// leaves the local row untouched.
func (c *Coordinator) UpdateAccount(ctx context.Context, id uint64, p Patch, actor model.Actor) (*model.Identity, error) {
	p.normalize()
	if p.Empty() {
		return nil, validationErr("no fields to update")
	}
	if err := c.validate(&p); err != nil {
		return nil, err
	}
	if p.Username != nil {
		if *p.Username == "" {
			return nil, validationErr("username must not be empty")
		}
		if err := checkUsername(*p.Username); err != nil {
			return nil, err
		}
	}
	if p.Email != nil && *p.Email == "" {
		return nil, validationErr("email must not be empty")
	}
	if p.Password != nil && *p.Password == "" {
		return nil, validationErr("password must not be empty")
	}

	if err := Authorize(actor, Rule{Roles: AdminRoles, Owner: id}); err != nil {
		return nil, err
	}
	if p.Role != nil {
		if actor.ID == id || !actor.Role.IsAdmin() {
			return nil, authorizationErr("role cannot be changed on your own account")
		}
		if err := Authorize(actor, Rule{Roles: AdminRoles, Target: *p.Role}); err != nil {
			return nil, err
		}
	}

	var (
		updated *model.Identity
		ref     string
		pushed  bool
	)
	err := database.WithTx(ctx, c.db, c.log, func(tx *sql.Tx) error {
		cur, err := c.users.LockByIDTx(ctx, tx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundErr("account not found")
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if err := Authorize(actor, Rule{Roles: AdminRoles, Owner: id, Target: cur.Role}); err != nil {
			return err
		}

		uc, pc := diff(cur, p)
		newRole := cur.Role
		if uc.Role != nil {
			newRole = *uc.Role
		}
		if !pc.Empty() && !newRole.HasProfile() {
			return validationErr(fmt.Sprintf("role %s has no profile", newRole))
		}
		if uc.Username != nil {
			taken, err := c.users.UsernameTakenTx(ctx, tx, *uc.Username, id)
			if err != nil {
				return fmt.Errorf("check username: %w", err)
			}
			if taken {
				return conflictErr("username already taken")
			}
		}

		fields := identity.Fields{Email: uc.Email, DisplayName: uc.Username, Password: p.Password}
		if uc.Empty() && pc.Empty() && fields.Empty() {
			updated, err = c.withProfile(ctx, tx, cur)
			return err
		}
		if !fields.Empty() {
			if cur.RemoteRef == nil {
				return validationErr("account has no remote identity")
			}
			ref = *cur.RemoteRef
			if err := c.remoteUpdate(ctx, ref, fields); err != nil {
				return remoteErr("update remote identity", err)
			}
			pushed = true
		}

		if err := c.users.UpdateTx(ctx, tx, id, uc); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		switch {
		case newRole != cur.Role:
			if err := c.moveProfile(ctx, tx, id, cur.Role, newRole, pc); err != nil {
				return err
			}
		case newRole.HasProfile() && !pc.Empty():
			if err := c.profiles.UpsertTx(ctx, tx, newRole, id, pc); err != nil {
				return fmt.Errorf("write %s profile: %w", newRole, err)
			}
		}
		desc := fmt.Sprintf("updated account %q: %s", cur.Username, strings.Join(changedFields(uc, pc, p.Password), ", "))
		if err := c.activity.InsertTx(ctx, tx, entry(actor, model.ActionUpdateUser, id, desc)); err != nil {
			return fmt.Errorf("write activity log: %w", err)
		}

		u, err := c.users.GetByIDTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("re-read user: %w", err)
		}
		updated, err = c.withProfile(ctx, tx, u)
		return err
	})
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		e := localErr("update local account", err)
		if errors.Is(err, repository.ErrDuplicate) {
			e = newErr(KindConflict, "username or email already exists", err)
		}
		if pushed {
			c.log.Warn().Err(err).Uint64("user_id", id).Str("remote_ref", ref).
				Msg("remote identity updated but local update failed; scheduling resync")
			c.enqueue(ctx, queue.ReconcileTask{
				Kind:      queue.TaskResyncRemote,
				UserID:    id,
				RemoteRef: ref,
				Reason:    "local update failed: " + err.Error(),
			})
		}
		return nil, e
	}

	c.log.Info().Uint64("user_id", id).Uint64("actor_id", actor.ID).Bool("remote", pushed).Msg("account updated")
	return updated, nil
}

// moveProfile carries the profile row of a user whose role changes from
// one table to another, with pc applied on top.  Moving to a role without
// a profile drops the row.
func (c *Coordinator) moveProfile(ctx context.Context, tx *sql.Tx, id uint64, from, to model.Role, pc repository.ProfileChanges) error {
	old, err := c.profiles.GetTx(ctx, tx, from, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("read %s profile: %w", from, err)
	}
	if err := c.profiles.DeleteTx(ctx, tx, from, id); err != nil {
		return fmt.Errorf("drop %s profile: %w", from, err)
	}
	if !to.HasProfile() {
		return nil
	}
	next := model.RoleProfile{UserID: id}
	if old != nil {
		next = *old
		next.UserID = id
	}
	if pc.FirstName != nil {
		next.FirstName = *pc.FirstName
	}
	if pc.LastName != nil {
		next.LastName = *pc.LastName
	}
	if err := c.profiles.InsertTx(ctx, tx, to, next); err != nil {
		return fmt.Errorf("write %s profile: %w", to, err)
	}
	return nil
}

// DeleteAccount is the administrative delete.  Administrators cannot
// remove themselves here.
func (c *Coordinator) DeleteAccount(ctx context.Context, id uint64, actor model.Actor) error {
	if err := Authorize(actor, Rule{Roles: AdminRoles}); err != nil {
		return err
	}
	if actor.ID == id {
		return authorizationErr("administrators cannot delete their own account")
	}
	return c.deleteAccount(ctx, id, actor, Rule{Roles: AdminRoles})
}

// DeleteOwnAccount is the self-service delete.  It is limited to customer
// and seller accounts; administrator accounts are removed by a super_admin.
func (c *Coordinator) DeleteOwnAccount(ctx context.Context, actor model.Actor) error {
	if err := Authorize(actor, Rule{Owner: actor.ID}); err != nil {
		return err
	}
	if actor.Role.IsAdmin() {
		return authorizationErr("administrator accounts cannot be self-deleted")
	}
	return c.deleteAccount(ctx, actor.ID, actor, Rule{Owner: actor.ID})
}

// deleteAccount records the deletion, removes the local rows and finally
// deletes the remote identity, all while the transaction is open.  A
// provider failure rolls everything back.  Only a failed COMMIT after a
// successful remote delete can leave the stores apart; that case is handed
// to the reconciler.
func (c *Coordinator) deleteAccount(ctx context.Context, id uint64, actor model.Actor, rule Rule) error {
	var (
		ref        string
		remoteDone bool
	)
	err := database.WithTx(ctx, c.db, c.log, func(tx *sql.Tx) error {
		cur, err := c.users.LockByIDTx(ctx, tx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundErr("account not found")
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		rule.Target = cur.Role
		if err := Authorize(actor, rule); err != nil {
			return err
		}

		n, err := c.bookings.CountActiveByUserTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("count active bookings: %w", err)
		}
		if n > 0 {
			return validationErr(fmt.Sprintf("account has %d active booking(s)", n))
		}

		desc := fmt.Sprintf("deleted %s account %q", cur.Role, cur.Username)
		if err := c.activity.InsertTx(ctx, tx, entry(actor, model.ActionDeleteUser, id, desc)); err != nil {
			return fmt.Errorf("write activity log: %w", err)
		}
		if err := c.users.DeleteTx(ctx, tx, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}

		if cur.RemoteRef != nil {
			ref = *cur.RemoteRef
			if err := c.remoteDelete(ctx, ref); err != nil {
				return remoteErr("delete remote identity", err)
			}
			remoteDone = true
		}
		return nil
	})
	if err == nil {
		c.log.Info().Uint64("user_id", id).Uint64("actor_id", actor.ID).Msg("account deleted")
		return nil
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if remoteDone && errors.Is(err, database.ErrCommit) {
		c.log.Error().Err(err).Uint64("user_id", id).Str("remote_ref", ref).
			Msg("remote identity deleted but local commit failed; scheduling purge")
		c.enqueue(ctx, queue.ReconcileTask{
			Kind:      queue.TaskPurgeLocal,
			UserID:    id,
			RemoteRef: ref,
			Reason:    "delete commit failed: " + err.Error(),
		})
		return localErr("remote identity deleted but local deletion did not commit", err)
	}
	return localErr("delete account", err)
}

// GetAccount returns one account with its profile.  Callers may read their
// own account; everything else needs an admin role.
func (c *Coordinator) GetAccount(ctx context.Context, id uint64, actor model.Actor) (*model.Identity, error) {
	if err := Authorize(actor, Rule{Roles: AdminRoles, Owner: id}); err != nil {
		return nil, err
	}
	u, err := c.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundErr("account not found")
	}
	if err != nil {
		return nil, localErr("get account", err)
	}
	p, err := c.profiles.Get(ctx, u.Role, u.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, localErr("get profile", err)
	}
	u.Profile = p
	return u, nil
}

// ListAccounts pages through accounts for administrators.
func (c *Coordinator) ListAccounts(ctx context.Context, f repository.UserFilter, actor model.Actor) ([]*model.Identity, int, error) {
	if err := Authorize(actor, Rule{Roles: AdminRoles}); err != nil {
		return nil, 0, err
	}
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, validationErr("unknown role filter")
	}
	users, total, err := c.users.List(ctx, f)
	if err != nil {
		return nil, 0, localErr("list accounts", err)
	}
	return users, total, nil
}

// ListActivity returns the newest activity log entries.
func (c *Coordinator) ListActivity(ctx context.Context, limit, offset int, actor model.Actor) ([]model.ActivityLogEntry, error) {
	if err := Authorize(actor, Rule{Roles: AdminRoles}); err != nil {
		return nil, err
	}
	limit, offset = repository.ClampPage(limit, offset)
	out, err := c.activity.List(ctx, limit, offset)
	if err != nil {
		return nil, localErr("list activity", err)
	}
	return out, nil
}

func (c *Coordinator) withProfile(ctx context.Context, tx *sql.Tx, u *model.Identity) (*model.Identity, error) {
	p, err := c.profiles.GetTx(ctx, tx, u.Role, u.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	u.Profile = p
	return u, nil
}

func (c *Coordinator) remoteCreate(ctx context.Context, email, password, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	ref, err := c.provider.CreateIdentity(ctx, email, password, name)
	if err != nil {
		return "", err
	}
	if ref == "" {
		return "", errors.New("identity provider returned an empty reference")
	}
	return ref, nil
}

func (c *Coordinator) remoteUpdate(ctx context.Context, ref string, f identity.Fields) error {
	ctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	return c.provider.UpdateIdentity(ctx, ref, f)
}

func (c *Coordinator) remoteDelete(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	return c.provider.DeleteIdentity(ctx, ref)
}

func (c *Coordinator) enqueue(ctx context.Context, t queue.ReconcileTask) {
	t.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	if c.reconciler == nil {
		c.log.Error().Str("kind", string(t.Kind)).Uint64("user_id", t.UserID).Str("remote_ref", t.RemoteRef).
			Msg("no reconciler configured; divergence needs manual repair")
		return
	}
	if err := c.reconciler.Enqueue(context.WithoutCancel(ctx), t); err != nil {
		c.log.Error().Err(err).Str("kind", string(t.Kind)).Uint64("user_id", t.UserID).Str("remote_ref", t.RemoteRef).
			Msg("enqueue reconcile task failed; divergence needs manual repair")
	}
}

// diff keeps only the user columns whose value actually changes.  Profile
// fields are passed through as given.
func diff(cur *model.Identity, p Patch) (repository.UserChanges, repository.ProfileChanges) {
	var uc repository.UserChanges
	if p.Username != nil && *p.Username != cur.Username {
		uc.Username = p.Username
	}
	if p.Email != nil && *p.Email != cur.Email {
		uc.Email = p.Email
	}
	if p.Role != nil && *p.Role != cur.Role {
		uc.Role = p.Role
	}
	if p.MobileNumber != nil && *p.MobileNumber != deref(cur.MobileNumber) {
		uc.MobileNumber = p.MobileNumber
	}
	return uc, repository.ProfileChanges{FirstName: p.FirstName, LastName: p.LastName}
}

func changedFields(uc repository.UserChanges, pc repository.ProfileChanges, password *string) []string {
	var out []string
	if uc.Username != nil {
		out = append(out, "username")
	}
	if uc.Email != nil {
		out = append(out, "email")
	}
	if uc.Role != nil {
		out = append(out, "role")
	}
	if uc.MobileNumber != nil {
		out = append(out, "mobile_number")
	}
	if pc.FirstName != nil {
		out = append(out, "first_name")
	}
	if pc.LastName != nil {
		out = append(out, "last_name")
	}
	if password != nil {
		out = append(out, "password")
	}
	return out
}

func entry(actor model.Actor, action string, userID uint64, desc string) model.ActivityLogEntry {
	entityType := "user"
	return model.ActivityLogEntry{
		ActorID:     actor.ID,
		ActorRole:   actor.Role,
		Action:      action,
		Description: desc,
		EntityID:    &userID,
		EntityType:  &entityType,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
