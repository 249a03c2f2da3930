// Package identity talks to the remote identity provider that holds the
// credential half of every account.
package identity

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the contract the account coordinator relies on.  Every
// method returns *Error on failure so callers can tell provider failures
// apart from local database errors.
type Provider interface {
	CreateIdentity(ctx context.Context, email, password, displayName string) (string, error)
	UpdateIdentity(ctx context.Context, ref string, f Fields) error
	DeleteIdentity(ctx context.Context, ref string) error
}

// Fields is a partial update of a remote record.  Nil fields are left
// untouched.
type Fields struct {
	Email       *string
	Password    *string
	DisplayName *string
}

// Empty reports whether the update carries no field.
func (f Fields) Empty() bool { return f.Email == nil && f.Password == nil && f.DisplayName == nil }

var (
	// ErrNotFound is returned when the remote record does not exist.
	ErrNotFound = errors.New("identity: user not found")
	// ErrConflict is returned when the provider rejects a duplicate email.
	ErrConflict = errors.New("identity: user already exists")
)

// Error wraps every failure coming out of a Provider.  Status carries the
// HTTP status when one was received, 0 for transport errors and timeouts.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("identity %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("identity %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
