package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrCommit marks a failure of the final COMMIT, as opposed to a failure
// of one of the statements inside the transaction.  Callers that already
// performed side effects outside the database inside fn need to tell the
// two apart.
var ErrCommit = errors.New("commit failed")

// WithTx runs fn inside a transaction.  The transaction is committed when
// fn returns nil and rolled back otherwise.  A failed rollback is logged
// and swallowed so the error from fn reaches the caller unchanged.
func WithTx(ctx context.Context, db *sql.DB, log zerolog.Logger, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Msg("rollback failed")
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	committed = true
	return nil
}
