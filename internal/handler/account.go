package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-admin/internal/account"
	"github.com/iliyamo/account-admin/internal/middleware"
	"github.com/iliyamo/account-admin/internal/model"
	"github.com/iliyamo/account-admin/internal/repository"
)

// AccountService is the part of *account.Coordinator the handlers use.
type AccountService interface {
	CreateAccount(ctx context.Context, in account.CreateInput, actor model.Actor) (*model.Identity, error)
	UpdateAccount(ctx context.Context, id uint64, p account.Patch, actor model.Actor) (*model.Identity, error)
	DeleteAccount(ctx context.Context, id uint64, actor model.Actor) error
	DeleteOwnAccount(ctx context.Context, actor model.Actor) error
	GetAccount(ctx context.Context, id uint64, actor model.Actor) (*model.Identity, error)
	ListAccounts(ctx context.Context, f repository.UserFilter, actor model.Actor) ([]*model.Identity, int, error)
	ListActivity(ctx context.Context, limit, offset int, actor model.Actor) ([]model.ActivityLogEntry, error)
}

// AccountHandler serves the admin and self-service account endpoints.
type AccountHandler struct {
	Accounts AccountService
}

func NewAccountHandler(s AccountService) *AccountHandler {
	if s == nil {
		panic("nil AccountService passed to NewAccountHandler")
	}
	return &AccountHandler{Accounts: s}
}

// Page wraps a list response.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Create handles POST /v1/admin/users.
func (h *AccountHandler) Create(c echo.Context) error {
	actor, found := middleware.ActorFrom(c)
	if !found {
		return unauthorized(c)
	}
	var in account.CreateInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	u, err := h.Accounts.CreateAccount(c.Request().Context(), in, actor)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusCreated, "account created", u)
}

// List handles GET /v1/admin/users?role=&q=&limit=&offset=.
func (h *AccountHandler) List(c echo.Context) error {
	actor, found := middleware.ActorFrom(c)
	if !found {
		return unauthorized(c)
	}
	limit, err := queryInt(c, "limit", repository.DefaultPageLimit)
	if err != nil {
		return badRequest(c, "limit must be an integer")
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return badRequest(c, "offset must be an integer")
	}
	limit, offset = repository.ClampPage(limit, offset)
	f := repository.UserFilter{
		Role:   model.Role(c.QueryParam("role")),
		Search: c.QueryParam("q"),
		Limit:  limit,
		Offset: offset,
	}
	users, total, err := h.Accounts.ListAccounts(c.Request().Context(), f, actor)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, "accounts", Page[*model.Identity]{Items: users, Total: total, Limit: f.Limit, Offset: f.Offset})
}

// Get handles GET /v1/admin/users/:id.
func (h *AccountHandler) Get(c echo.Context) error {
	actor, found := middleware.ActorFrom(c)
	if !found {
		return unauthorized(c)
	}
	id, valid := pathID(c)
	if !valid {
		return badRequest(c, "invalid id")
	}
	u, err := h.Accounts.GetAccount(c.Request().Context(), id, actor)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, "account", u)
}

// Update handles PATCH /v1/admin/users/:id.
func (h *AccountHandler) Update(c echo.Context) error {
	actor, found := middleware.ActorFrom(c)
	if !found {
		return unauthorized(c)
	}
	id, valid := pathID(c)
	if !valid {
		return badRequest(c, "invalid id")
	}
	return h.update(c, id, actor)
}

// Delete handles DELETE /v1/admin/users/:id.
func (h *AccountHandler) Delete(c echo.Context) error {
	actor, found := middleware.ActorFrom(c)
	if !found {
		return unauthorized(c)
	}
	id, valid := pathID(c)
	if !valid {
		return badRequest(c, "invalid id")
	}
	if err := h.Accounts.DeleteAccount(c.Request().Context(), id, actor); err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, "account deleted", nil)
}

// Me handles GET /v1/me.
func (h *AccountHandler) Me(c echo.Context) error {
	actor, found := middleware.ActorFrom(c)
	if !found {
		return unauthorized(c)
	}
	u, err := h.Accounts.GetAccount(c.Request().Context(), actor.ID, actor)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, "account", u)
}

// UpdateMe handles PATCH /v1/me.
func (h *AccountHandler) UpdateMe(c echo.Context) error {
	actor, found := middleware.ActorFrom(c)
	if !found {
		return unauthorized(c)
	}
	return h.update(c, actor.ID, actor)
}

// DeleteMe handles DELETE /v1/me.
func (h *AccountHandler) DeleteMe(c echo.Context) error {
	actor, found := middleware.ActorFrom(c)
	if !found {
		return unauthorized(c)
	}
	if err := h.Accounts.DeleteOwnAccount(c.Request().Context(), actor); err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, "account deleted", nil)
}

// Activity handles GET /v1/admin/activity?limit=&offset=.
func (h *AccountHandler) Activity(c echo.Context) error {
	actor, found := middleware.ActorFrom(c)
	if !found {
		return unauthorized(c)
	}
	limit, err := queryInt(c, "limit", repository.DefaultPageLimit)
	if err != nil {
		return badRequest(c, "limit must be an integer")
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return badRequest(c, "offset must be an integer")
	}
	entries, err := h.Accounts.ListActivity(c.Request().Context(), limit, offset, actor)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, "activity", entries)
}

func (h *AccountHandler) update(c echo.Context, id uint64, actor model.Actor) error {
	var p account.Patch
	if err := c.Bind(&p); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	u, err := h.Accounts.UpdateAccount(c.Request().Context(), id, p, actor)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, "account updated", u)
}

// unauthorized answers requests that reached a handler without an actor.
// Routes are mounted behind JWTAuth, so this only fires on a wiring bug.
func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, Response{Message: "authentication required", Error: "unauthorized"})
}

func pathID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
