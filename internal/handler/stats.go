package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-admin/internal/account"
	"github.com/iliyamo/account-admin/internal/repository"
)

// StatsSource is satisfied by *repository.StatsRepo.
type StatsSource interface {
	Summary(ctx context.Context, now time.Time) (*repository.Stats, error)
}

// StatsHandler serves the admin dashboard aggregates.  Responses are
// cached by the Redis cache middleware mounted on the route.
type StatsHandler struct {
	Stats StatsSource
	Now   func() time.Time
}

func NewStatsHandler(s StatsSource) *StatsHandler {
	return &StatsHandler{Stats: s, Now: time.Now}
}

// Get handles GET /v1/admin/stats.
func (h *StatsHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	s, err := h.Stats.Summary(ctx, h.Now())
	if err != nil {
		return fail(c, &account.Error{Kind: account.KindLocalStore, Message: "compute stats", Err: err})
	}
	return ok(c, http.StatusOK, "stats", s)
}
