package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/account-admin/internal/auth"
	"github.com/iliyamo/account-admin/internal/config"
	"github.com/iliyamo/account-admin/internal/model"
)

const secret = "test-secret"

func bearer(t *testing.T, a model.Actor) string {
	t.Helper()
	tok, err := auth.NewAccessToken(secret, a, time.Minute)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func serve(e *echo.Echo, method, path, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authz != "" {
		req.Header.Set(echo.HeaderAuthorization, authz)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRequireRole(t *testing.T) {
	e := echo.New()
	g := e.Group("/admin", JWTAuth(secret), RequireRole(model.RoleAdmin, model.RoleSuperAdmin))
	g.GET("/ping", func(c echo.Context) error {
		a, ok := ActorFrom(c)
		require.True(t, ok)
		return c.String(http.StatusOK, string(a.Role))
	})

	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/admin/ping", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/admin/ping", "Bearer junk").Code)
	assert.Equal(t, http.StatusForbidden,
		serve(e, http.MethodGet, "/admin/ping", bearer(t, model.Actor{ID: 3, Role: model.RoleCustomer})).Code)

	rec := serve(e, http.MethodGet, "/admin/ping", bearer(t, model.Actor{ID: 1, Role: model.RoleSuperAdmin}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "super_admin", rec.Body.String())
}

func TestTokenBucketBlocksAfterCapacity(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour, TTL: time.Hour,
		KeyStrategy: "ip", Prefix: "test:rl",
	}
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(cfg, rdb, zerolog.Nop()))

	first := serve(e, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusNoContent, serve(e, http.MethodGet, "/x", "").Code)

	blocked := serve(e, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
}

func TestTokenBucketFailsOpen(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute}
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(cfg, rdb, zerolog.Nop()))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, serve(e, http.MethodGet, "/x", "").Code)
	}
}

func TestRateKeyStrategies(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/users", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/admin/users")

	cfg := config.RateLimitConfig{Prefix: "rl"}
	assert.Equal(t, "rl:actor:anon:route:GET /v1/admin/users", rateKey(cfg, c))

	SetActor(c, model.Actor{ID: 9, Role: model.RoleAdmin})
	assert.Equal(t, "rl:actor:9:route:GET /v1/admin/users", rateKey(cfg, c))

	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.7", rateKey(cfg, c))
}

func TestRedisCacheReplaysHits(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{http.MethodGet: true}, TTL: time.Minute, Prefix: "test:cache", MaxBodyBytes: 1 << 20}
	calls := 0
	e := echo.New()
	e.GET("/stats", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"n": calls})
	}, NewRedisCache(cfg, rdb, zerolog.Nop()))

	miss := serve(e, http.MethodGet, "/stats", "")
	assert.Equal(t, "MISS", miss.Header().Get("X-Cache"))
	hit := serve(e, http.MethodGet, "/stats", "")
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))
	assert.Equal(t, miss.Body.String(), hit.Body.String())
	assert.Equal(t, echo.MIMEApplicationJSON, hit.Header().Get(echo.HeaderContentType))
	assert.Equal(t, 1, calls)
}

func TestRedisCacheKeepsCurrentRequestID(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{http.MethodGet: true}, TTL: time.Minute, Prefix: "test:cache", MaxBodyBytes: 1 << 20}
	ids := 0
	e := echo.New()
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: func() string {
		ids++
		return fmt.Sprintf("req-%d", ids)
	}}))
	e.GET("/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"ok": true})
	}, NewRedisCache(cfg, rdb, zerolog.Nop()))

	miss := serve(e, http.MethodGet, "/stats", "")
	assert.Equal(t, "req-1", miss.Header().Get(echo.HeaderXRequestID))
	for _, k := range mr.Keys() {
		v, err := mr.Get(k)
		require.NoError(t, err)
		assert.NotContains(t, v, "req-1")
	}

	hit := serve(e, http.MethodGet, "/stats", "")
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))
	assert.Equal(t, []string{"req-2"}, hit.Header().Values(echo.HeaderXRequestID))
}

func TestRedisCacheSkipsErrors(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{http.MethodGet: true}, TTL: time.Minute, Prefix: "test:cache"}
	calls := 0
	e := echo.New()
	e.GET("/stats", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "boom"})
	}, NewRedisCache(cfg, rdb, zerolog.Nop()))

	serve(e, http.MethodGet, "/stats", "")
	serve(e, http.MethodGet, "/stats", "")
	assert.Equal(t, 2, calls)
}
