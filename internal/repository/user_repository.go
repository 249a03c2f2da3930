package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/account-admin/internal/model"
)

// UserRepo reads and writes the users table.  Writes only exist in Tx
// form: every mutation of a user belongs to a larger unit of work.
type UserRepo struct{ db *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// DB exposes the pool so callers can open transactions.
func (r *UserRepo) DB() *sql.DB { return r.db }

const userColumns = "id, username, email, role, mobile_number, remote_ref, created_by, created_at, updated_at"

// NewUser carries the columns supplied on insert.
type NewUser struct {
	Username     string
	Email        string
	Role         model.Role
	MobileNumber *string
	RemoteRef    string
	CreatedBy    uint64
}

// UserChanges lists the columns an update may touch.  A nil field is left
// alone.  An empty MobileNumber clears the column.
type UserChanges struct {
	Username     *string
	Email        *string
	Role         *model.Role
	MobileNumber *string
}

// Empty reports whether no column would change.
func (c UserChanges) Empty() bool {
	return c.Username == nil && c.Email == nil && c.Role == nil && c.MobileNumber == nil
}

// assignments renders the SET clause.  Column names come from this fixed
// list only; values are always bound parameters.
func (c UserChanges) assignments() ([]string, []any) {
	var cols []string
	var args []any
	if c.Username != nil {
		cols = append(cols, "username = ?")
		args = append(args, *c.Username)
	}
	if c.Email != nil {
		cols = append(cols, "email = ?")
		args = append(args, *c.Email)
	}
	if c.Role != nil {
		cols = append(cols, "role = ?")
		args = append(args, string(*c.Role))
	}
	if c.MobileNumber != nil {
		cols = append(cols, "mobile_number = ?")
		if *c.MobileNumber == "" {
			args = append(args, nil)
		} else {
			args = append(args, *c.MobileNumber)
		}
	}
	return cols, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.Identity, error) {
	var (
		u         model.Identity
		role      string
		mobile    sql.NullString
		remoteRef sql.NullString
		createdBy sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &role, &mobile, &remoteRef, &createdBy, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	if mobile.Valid {
		u.MobileNumber = &mobile.String
	}
	if remoteRef.Valid {
		u.RemoteRef = &remoteRef.String
	}
	if createdBy.Valid {
		id := uint64(createdBy.Int64)
		u.CreatedBy = &id
	}
	return &u, nil
}

// GetByID fetches a user outside of any transaction.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.Identity, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// LockByIDTx fetches a user and holds a row lock on it until the
// transaction ends.  Concurrent mutations of the same user serialize here.
func (r *UserRepo) LockByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Identity, error) {
	return scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ? FOR UPDATE", id))
}

// GetByIDTx re-reads a user inside a transaction without locking.
func (r *UserRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Identity, error) {
	return scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetByRemoteRef looks a user up by its identity-provider reference
// outside of any transaction.
func (r *UserRepo) GetByRemoteRef(ctx context.Context, ref string) (*model.Identity, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE remote_ref = ?", ref))
}

// GetByRemoteRefTx looks a user up by its identity-provider reference.
func (r *UserRepo) GetByRemoteRefTx(ctx context.Context, tx *sql.Tx, ref string) (*model.Identity, error) {
	return scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE remote_ref = ?", ref))
}

// UsernameTaken reports whether another user (id != excludeID) already
// uses username.  Pass excludeID 0 on create.
func (r *UserRepo) UsernameTaken(ctx context.Context, username string, excludeID uint64) (bool, error) {
	return usernameTaken(ctx, r.db, username, excludeID)
}

// UsernameTakenTx is UsernameTaken inside a transaction.
func (r *UserRepo) UsernameTakenTx(ctx context.Context, tx *sql.Tx, username string, excludeID uint64) (bool, error) {
	return usernameTaken(ctx, tx, username, excludeID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func usernameTaken(ctx context.Context, q queryRower, username string, excludeID uint64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ? AND id <> ?", username, excludeID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertTx creates the users row and returns the generated id.
func (r *UserRepo) InsertTx(ctx context.Context, tx *sql.Tx, u NewUser) (uint64, error) {
	const q = `INSERT INTO users (username, email, role, mobile_number, remote_ref, created_by) VALUES (?, ?, ?, ?, ?, ?)`
	var mobile any
	if u.MobileNumber != nil && *u.MobileNumber != "" {
		mobile = *u.MobileNumber
	}
	var createdBy any
	if u.CreatedBy != 0 {
		createdBy = u.CreatedBy
	}
	res, err := tx.ExecContext(ctx, q, u.Username, u.Email, string(u.Role), mobile, u.RemoteRef, createdBy)
	if err != nil {
		return 0, translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// UpdateTx applies the non-nil fields of c.  An empty change set is a no-op.
func (r *UserRepo) UpdateTx(ctx context.Context, tx *sql.Tx, id uint64, c UserChanges) error {
	cols, args := c.assignments()
	if len(cols) == 0 {
		return nil
	}
	q := "UPDATE users SET " + strings.Join(cols, ", ") + " WHERE id = ?"
	args = append(args, id)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return translate(err)
	}
	return nil
}

// DeleteTx removes the user.  customers/sellers/bookings rows go with it
// through ON DELETE CASCADE.  Returns ErrNotFound when nothing was deleted.
func (r *UserRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserFilter narrows List.  Limit and Offset go through ClampPage.
type UserFilter struct {
	Role   model.Role
	Search string // substring of username or email
	Limit  int
	Offset int
}

// likeEscaper makes user input match literally inside a LIKE pattern
// that declares ESCAPE '!'.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// Page bounds used by every list query.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// ClampPage returns the limit and offset a list query actually applies.
// Limits outside [1, MaxPageLimit] fall back to DefaultPageLimit.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxPageLimit {
		limit = DefaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// List returns users ordered by id together with the unpaged total.
func (r *UserRepo) List(ctx context.Context, f UserFilter) ([]*model.Identity, int, error) {
	f.Limit, f.Offset = ClampPage(f.Limit, f.Offset)
	var where []string
	var args []any
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, string(f.Role))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, "(username LIKE ? ESCAPE '!' OR email LIKE ? ESCAPE '!')")
		like := "%" + likeEscaper.Replace(s) + "%"
		args = append(args, like, like)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	q := "SELECT " + userColumns + " FROM users" + cond + " ORDER BY id LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, q, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Identity, 0, f.Limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
