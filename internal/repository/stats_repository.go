package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats is the aggregate view returned by the admin dashboard.
type Stats struct {
	TotalUsers       int            `json:"total_users"`
	UsersByRole      map[string]int `json:"users_by_role"`
	NewUsersLast30d  int            `json:"new_users_last_30d"`
	BookingsByStatus map[string]int `json:"bookings_by_status"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

// StatsRepo runs the aggregate queries behind Stats.
type StatsRepo struct{ db *sql.DB }

func NewStatsRepo(db *sql.DB) *StatsRepo { return &StatsRepo{db: db} }

// Summary computes Stats.  now anchors the 30 day window.
func (r *StatsRepo) Summary(ctx context.Context, now time.Time) (*Stats, error) {
	s := &Stats{
		UsersByRole:      map[string]int{},
		BookingsByStatus: map[string]int{},
		GeneratedAt:      now.UTC(),
	}

	byRole, err := r.groupCount(ctx, "SELECT role, COUNT(*) FROM users GROUP BY role")
	if err != nil {
		return nil, fmt.Errorf("users by role: %w", err)
	}
	for role, n := range byRole {
		s.UsersByRole[role] = n
		s.TotalUsers += n
	}

	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE created_at >= ?", now.UTC().AddDate(0, 0, -30)).Scan(&s.NewUsersLast30d); err != nil {
		return nil, fmt.Errorf("new users: %w", err)
	}

	byStatus, err := r.groupCount(ctx, "SELECT status, COUNT(*) FROM bookings GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("bookings by status: %w", err)
	}
	s.BookingsByStatus = byStatus
	return s, nil
}

func (r *StatsRepo) groupCount(ctx context.Context, q string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}
