package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-admin/internal/model"
)

// actorKey is where JWTAuth stores the authenticated model.Actor.
const actorKey = "actor"

// ActorFrom returns the actor stored by JWTAuth.
func ActorFrom(c echo.Context) (model.Actor, bool) {
	a, ok := c.Get(actorKey).(model.Actor)
	return a, ok && a.ID != 0
}

// SetActor stores a on the context.  Tests use it to skip token handling.
func SetActor(c echo.Context, a model.Actor) { c.Set(actorKey, a) }

// actorID is the rate-limit identity of the caller: its user id, or
// "anon" before authentication.
func actorID(c echo.Context) string {
	if a, ok := ActorFrom(c); ok {
		return strconv.FormatUint(a.ID, 10)
	}
	return "anon"
}
