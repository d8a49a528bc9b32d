package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/versioned-notes/internal/api"
	"github.com/kuitang/versioned-notes/internal/backup"
	"github.com/kuitang/versioned-notes/internal/config"
	"github.com/kuitang/versioned-notes/internal/mcp"
	"github.com/kuitang/versioned-notes/internal/notes"
	"github.com/kuitang/versioned-notes/internal/obs"
	"github.com/kuitang/versioned-notes/internal/ratelimit"
	"github.com/kuitang/versioned-notes/internal/share"
)

// app holds the components a server process is built from.
type app struct {
	store   *notes.Store
	shares  *share.Service
	limiter *ratelimit.RateLimiter
	cfg     *config.Config
}

// routes builds the full handler chain: correlation, access log, CORS, rate limit, mux.
func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	api.NewHandler(a.store, a.shares, a.cfg.BaseURL).RegisterRoutes(mux)
	mountMCPRoute(mux, "/mcp", mcp.NewServer(a.store))

	var handler http.Handler = mux
	handler = ratelimit.RateLimitMiddleware(a.limiter, rateLimitKey)(handler)
	handler = api.CORSMiddleware(a.cfg.CORSAllowedOrigins)(handler)
	handler = obs.AccessLogMiddleware("http", handler)
	return obs.RequestContextMiddleware(handler)
}

// mountMCPRoute registers every method the Streamable HTTP transport uses.
func mountMCPRoute(mux *http.ServeMux, path string, handler http.Handler) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
		mux.Handle(method+" "+path, handler)
	}
}

// rateLimitKey exempts health checks and CORS preflights.
func rateLimitKey(r *http.Request) string {
	if r.URL.Path == "/health" || r.Method == http.MethodOptions {
		return ""
	}
	return ratelimit.ClientIP(r)
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.PrintStartupSummary(os.Stderr)
	logger := obs.Pkg("server")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, report, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	logger.Info("database_ready", "path", cfg.DatabasePath, "encrypted", cfg.Encrypted(), "versions_backfilled", report.VersionsBackfilled, "timestamps_converted", report.TimestampsConverted)

	store := notes.NewStore(database)
	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	defer limiter.Stop()

	objects, stopObjects, err := openObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopObjects()
	if objects != nil && cfg.BackupInterval > 0 {
		backups := backup.NewService(store, objects)
		go backups.RunEvery(ctx, cfg.BackupInterval)
		logger.Info("backups_scheduled", "bucket", objects.BucketName(), "interval", cfg.BackupInterval.String())
	}

	a := &app{
		store:   store,
		shares:  share.NewService(database, nil),
		limiter: limiter,
		cfg:     cfg,
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting_down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
