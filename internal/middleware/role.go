package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-admin/internal/account"
	"github.com/iliyamo/account-admin/internal/model"
)

// RequireRole rejects callers whose role is not listed.  It goes through
// account.Authorize so routes and operations share one permission check.
// It must run after JWTAuth.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	rule := account.Rule{Roles: roles}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFrom(c)
			if !ok {
				return deny(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			}
			if err := account.Authorize(actor, rule); err != nil {
				return deny(c, http.StatusForbidden, "forbidden", "insufficient role")
			}
			return next(c)
		}
	}
}
