package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	sqliteadapter "github.com/mhsenkow/snapfeed/internal/adapter/driven/sqlite"
	httphandler "github.com/mhsenkow/snapfeed/internal/adapter/driving/http"
	"github.com/mhsenkow/snapfeed/internal/application"
	"github.com/mhsenkow/snapfeed/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on malformed env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"refresh_interval", cfg.RefreshInterval,
		"credential_store", cfg.SecretKey != nil,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire the application core.
	credentialStore := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	store := application.NewStore()
	fetcher := application.NewFetcher()
	timeline := application.NewTimelineService(fetcher, store)
	engagement := application.NewEngagementSync(store, timeline)
	sessions := application.NewSessionManager(
		credentialStore,
		timeline,
		cfg.MastodonAppName,
		cfg.MastodonRedirectURI,
		cfg.MastodonScopes,
		cfg.BlueskyPDS,
	)

	// 6. Restore persisted sessions before the first refresh so the initial
	// cycle already covers every signed-in backend.
	sessions.Restore(ctx)

	// 7. Create and start the background refresh service.
	refresher := application.NewRefreshService(timeline, cfg.RefreshInterval, cfg.PageLimit)
	go refresher.Start(ctx)

	// 8. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(timeline, refresher, engagement, sessions, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("snapfeed started",
		"listen_addr", cfg.ListenAddr,
		"refresh_interval", cfg.RefreshInterval,
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout to drain in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
