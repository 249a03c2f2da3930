package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/account-admin/internal/model"
)

// ProfileRepo manages the role-specific customers and sellers tables.  The
// table is chosen from the role, never from caller input.
type ProfileRepo struct{ db *sql.DB }

func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{db: db} }

// errNoProfile is returned for roles that have no profile table.
var errNoProfile = errors.New("role has no profile table")

// ProfileChanges lists the profile columns an upsert may touch.
type ProfileChanges struct {
	FirstName *string
	LastName  *string
}

// Empty reports whether no column would change.
func (c ProfileChanges) Empty() bool { return c.FirstName == nil && c.LastName == nil }

func table(role model.Role) (string, error) {
	t := role.ProfileTable()
	if t == "" {
		return "", errNoProfile
	}
	return t, nil
}

func scanProfile(row rowScanner) (*model.RoleProfile, error) {
	var p model.RoleProfile
	var pic sql.NullString
	if err := row.Scan(&p.UserID, &p.FirstName, &p.LastName, &pic); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if pic.Valid {
		p.ProfilePicture = &pic.String
	}
	return &p, nil
}

// Get returns the profile of userID in the table for role.  Roles without
// a profile yield (nil, nil).
func (r *ProfileRepo) Get(ctx context.Context, role model.Role, userID uint64) (*model.RoleProfile, error) {
	return getProfile(ctx, r.db, role, userID)
}

// GetTx is Get inside a transaction.
func (r *ProfileRepo) GetTx(ctx context.Context, tx *sql.Tx, role model.Role, userID uint64) (*model.RoleProfile, error) {
	return getProfile(ctx, tx, role, userID)
}

func getProfile(ctx context.Context, q queryRower, role model.Role, userID uint64) (*model.RoleProfile, error) {
	t, err := table(role)
	if err != nil {
		return nil, nil
	}
	return scanProfile(q.QueryRowContext(ctx,
		"SELECT user_id, first_name, last_name, profile_picture FROM "+t+" WHERE user_id = ?", userID))
}

// InsertTx creates the profile row p in the table for role.  Used for new
// users and for role changes that move a profile between tables.
func (r *ProfileRepo) InsertTx(ctx context.Context, tx *sql.Tx, role model.Role, p model.RoleProfile) error {
	t, err := table(role)
	if err != nil {
		return err
	}
	var pic sql.NullString
	if p.ProfilePicture != nil {
		pic = sql.NullString{String: *p.ProfilePicture, Valid: true}
	}
	_, err = tx.ExecContext(ctx, "INSERT INTO "+t+" (user_id, first_name, last_name, profile_picture) VALUES (?, ?, ?, ?)",
		p.UserID, p.FirstName, p.LastName, pic)
	return err
}

// UpsertTx writes the non-nil fields of c, creating the row when it does
// not exist yet.  Fields absent from c keep their stored value, or start
// empty on insert.
func (r *ProfileRepo) UpsertTx(ctx context.Context, tx *sql.Tx, role model.Role, userID uint64, c ProfileChanges) error {
	t, err := table(role)
	if err != nil {
		return err
	}
	first, last := "", ""
	var updates []string
	if c.FirstName != nil {
		first = *c.FirstName
		updates = append(updates, "first_name = VALUES(first_name)")
	}
	if c.LastName != nil {
		last = *c.LastName
		updates = append(updates, "last_name = VALUES(last_name)")
	}
	if len(updates) == 0 {
		// keep the row as is; only make sure it exists
		updates = append(updates, "user_id = user_id")
	}
	q := fmt.Sprintf("INSERT INTO %s (user_id, first_name, last_name) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE %s",
		t, strings.Join(updates, ", "))
	_, err = tx.ExecContext(ctx, q, userID, first, last)
	return err
}

// DeleteTx drops the profile row, used when a role change moves the user
// to another table or to an admin role.  Missing rows are not an error.
func (r *ProfileRepo) DeleteTx(ctx context.Context, tx *sql.Tx, role model.Role, userID uint64) error {
	t, err := table(role)
	if err != nil {
		return nil
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM "+t+" WHERE user_id = ?", userID)
	return err
}
