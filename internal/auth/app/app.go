// Package app loads configuration, wires the service's collaborators
// together, and owns the process lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpapi "github.com/rs-cuongph/my-password-management-sub002/internal/auth/http"
	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/service"
	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/store"
	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/store/drivers/sqlite"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/cryptox"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/guardx"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/jwtx"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/slogx"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/totpx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db    store.Store
	guard guardx.Guard

	authService         *service.AuthService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New builds an Application. Construction fails loudly on bad configuration:
// a missing or placeholder token secret or encryption key never makes it to
// a listening socket.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "auth-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains outstanding requests and releases resources.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initServices() error {
	issuer, err := jwtx.NewIssuer(app.cfg.TokenSecret, app.cfg.Issuer, app.cfg.SessionTTL, app.cfg.PendingTTL)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}

	box, err := cryptox.NewSecretBox(app.cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("secret encryption: %w", err)
	}

	engine, err := totpx.New(totpx.Options{
		Issuer:    app.cfg.Issuer,
		Period:    uint(app.cfg.TOTPPeriod),
		Digits:    app.cfg.TOTPDigits,
		Algorithm: app.cfg.TOTPAlgorithm,
	})
	if err != nil {
		return fmt.Errorf("totp engine: %w", err)
	}

	app.initGuard()

	app.authService = &service.AuthService{
		Store:    app.db,
		Tokens:   issuer,
		Secrets:  box,
		TOTP:     engine,
		Guard:    app.guard,
		Logger:   app.logger,
		HashCost: app.cfg.HashCost,
		Skew:     uint(app.cfg.TOTPSkew),
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}

// initGuard picks the abuse guard driver. With a Redis address the budget is
// shared across instances; without one it is per-process.
func (app *Application) initGuard() {
	if app.cfg.RedisAddr == "" {
		app.guard = guardx.NewMemoryGuard(guardx.DefaultWindow, guardx.SensitiveActions())
		app.logger.Info("abuse guard using in-process counters")
		return
	}

	rdb := redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
	app.guard = guardx.NewRedisGuard(rdb, "auth-guard", guardx.DefaultWindow, guardx.SensitiveActions())
	app.logger.Info("abuse guard using redis counters", "addr", app.cfg.RedisAddr)
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)
	router.AuthService = app.authService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
