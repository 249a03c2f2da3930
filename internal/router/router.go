// Package router registers the HTTP routes of the account admin API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/account-admin/internal/account"
	"github.com/iliyamo/account-admin/internal/config"
	"github.com/iliyamo/account-admin/internal/handler"
	"github.com/iliyamo/account-admin/internal/middleware"
)

// Deps carries what the route groups need.  Redis may be nil; rate
// limiting and caching are then skipped.
type Deps struct {
	Accounts  *handler.AccountHandler
	Stats     *handler.StatsHandler
	DB        handler.Pinger
	JWTSecret string
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Logger    zerolog.Logger
}

// RegisterRoutes registers the unauthenticated probes.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(d.DB))
}

// RegisterAdmin registers the administrator API under /v1/admin.  Every
// route requires a valid token carrying an admin role.
func RegisterAdmin(e *echo.Echo, d Deps) {
	g := e.Group("/v1/admin",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(account.AdminRoles...),
		middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Logger),
	)

	g.POST("/users", d.Accounts.Create)
	g.GET("/users", d.Accounts.List)
	g.GET("/users/:id", d.Accounts.Get)
	g.PATCH("/users/:id", d.Accounts.Update)
	g.DELETE("/users/:id", d.Accounts.Delete)

	g.GET("/activity", d.Accounts.Activity)
	g.GET("/stats", d.Stats.Get, middleware.NewRedisCache(d.Cache, d.Redis, d.Logger))
}

// RegisterSelf registers the self-service routes under /v1/me for any
// authenticated account.
func RegisterSelf(e *echo.Echo, d Deps) {
	g := e.Group("/v1/me",
		middleware.JWTAuth(d.JWTSecret),
		middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Logger),
	)
	g.GET("", d.Accounts.Me)
	g.PATCH("", d.Accounts.UpdateMe)
	g.DELETE("", d.Accounts.DeleteMe)
}
