package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/account-admin/internal/model"
)

// BookingRepo is a read-only view of the bookings table.  Bookings are
// owned by another service; accounts only need to know whether a user
// still has active ones.
type BookingRepo struct{ db *sql.DB }

func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// CountActiveByUserTx counts pending and confirmed bookings of userID.
// It runs inside the deletion transaction so the answer holds until the
// user row is gone.
func (r *BookingRepo) CountActiveByUserTx(ctx context.Context, tx *sql.Tx, userID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM bookings WHERE user_id = ? AND status IN (?, ?)`
	var n int
	err := tx.QueryRowContext(ctx, q, userID,
		string(model.ActiveBookingStatuses[0]), string(model.ActiveBookingStatuses[1])).Scan(&n)
	return n, err
}
