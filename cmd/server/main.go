package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/account-admin/internal/account"
	"github.com/iliyamo/account-admin/internal/config"
	"github.com/iliyamo/account-admin/internal/database"
	"github.com/iliyamo/account-admin/internal/handler"
	"github.com/iliyamo/account-admin/internal/identity"
	"github.com/iliyamo/account-admin/internal/logger"
	appmw "github.com/iliyamo/account-admin/internal/middleware"
	"github.com/iliyamo/account-admin/internal/queue"
	"github.com/iliyamo/account-admin/internal/repository"
	"github.com/iliyamo/account-admin/internal/router"
	"github.com/iliyamo/account-admin/internal/service"
)

func main() {
	cfg := config.Load()
	lg := logger.New(cfg.LogLevel, os.Stdout)
	log.Logger = lg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
		MaxConns: cfg.DBMaxConns,
	})
	if err != nil {
		lg.Fatal().Err(err).Msg("database unavailable")
	}
	defer db.Close()
	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			lg.Fatal().Err(err).Msg("migration failed")
		}
		lg.Info().Msg("schema applied")
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		lg.Warn().Msg("redis unavailable; rate limiting and stats cache disabled")
	} else {
		defer rdb.Close()
	}

	provider := newProvider(cfg.IdentityProvider, lg)

	users := repository.NewUserRepo(db)
	activity := repository.NewActivityRepo(db)
	publisher := service.NewPublisher(cfg.RabbitURL, logger.Component(lg, "publisher"))

	coord := account.New(account.Deps{
		DB:            db,
		Users:         users,
		Profiles:      repository.NewProfileRepo(db),
		Activity:      activity,
		Bookings:      repository.NewBookingRepo(db),
		Provider:      provider,
		Reconciler:    publisher,
		Logger:        lg,
		RemoteTimeout: cfg.IdentityProvider.Timeout,
	})

	consumer := &queue.Consumer{
		URL:     cfg.RabbitURL,
		Handler: service.NewReconciler(db, users, activity, provider, logger.Component(lg, "reconciler"), cfg.IdentityProvider.Timeout),
		Retry:   publisher,
		Log:     logger.Component(lg, "reconcile-consumer"),
	}
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error().Err(err).Msg("reconcile consumer stopped")
		}
	}()

	e := newEcho(lg)
	deps := router.Deps{
		Accounts:  handler.NewAccountHandler(coord),
		Stats:     handler.NewStatsHandler(repository.NewStatsRepo(db)),
		DB:        db,
		JWTSecret: cfg.JWTSecret,
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Logger:    logger.Component(lg, "http"),
	}
	router.RegisterRoutes(e, deps)
	router.RegisterAdmin(e, deps)
	router.RegisterSelf(e, deps)

	addr := ":" + cfg.Port
	go func() {
		lg.Info().Str("addr", addr).Str("env", cfg.Env).Str("idp_mode", cfg.IdentityProvider.Mode).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		lg.Error().Err(err).Msg("shutdown")
	}
}

func newEcho(lg zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(appmw.RequestLogger(logger.Component(lg, "http")))
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("1M"))
	return e
}

func newProvider(cfg config.IdentityProviderConfig, lg zerolog.Logger) identity.Provider {
	switch cfg.Mode {
	case "memory":
		lg.Warn().Msg("using in-memory identity provider; identities are lost on restart")
		return identity.NewMemoryProvider(0)
	case "http":
		return identity.NewHTTPProvider(cfg)
	}
	lg.Fatal().Str("mode", cfg.Mode).Msg("unknown IDP_MODE")
	return nil
}
