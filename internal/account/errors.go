package account

import (
	"errors"
	"fmt"
)

// Kind classifies coordinator failures.  The HTTP layer maps each kind to
// a status code.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindRemoteProvider Kind = "remote_provider"
	KindLocalStore     Kind = "local_store"
)

// Error is returned by every coordinator operation.  Compensation holds the
// failure of a compensating action, if one ran and failed; it never
// replaces the original cause in Err.
type Error struct {
	Kind         Kind
	Message      string
	Err          error
	Compensation error
}

// Sentinels for errors.Is.  They match any *Error of the same kind.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrRemoteProvider = &Error{Kind: KindRemoteProvider}
	ErrLocalStore     = &Error{Kind: KindLocalStore}
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Compensation != nil {
		msg += fmt.Sprintf(" (compensation failed: %v)", e.Compensation)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, account.ErrConflict).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindLocalStore for errors that did
// not come from the coordinator.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindLocalStore
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func validationErr(msg string) *Error    { return newErr(KindValidation, msg, nil) }
func authorizationErr(msg string) *Error { return newErr(KindAuthorization, msg, nil) }
func notFoundErr(msg string) *Error      { return newErr(KindNotFound, msg, nil) }
func conflictErr(msg string) *Error      { return newErr(KindConflict, msg, nil) }

func remoteErr(msg string, cause error) *Error { return newErr(KindRemoteProvider, msg, cause) }
func localErr(msg string, cause error) *Error  { return newErr(KindLocalStore, msg, cause) }
