package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/vitalsync/internal/api"
	"github.com/hyperengineering/vitalsync/internal/config"
	"github.com/hyperengineering/vitalsync/internal/processor"
	"github.com/hyperengineering/vitalsync/internal/store"
	syncengine "github.com/hyperengineering/vitalsync/internal/sync"
	"github.com/hyperengineering/vitalsync/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "vitalsync",
	Short: "VitalSync - offline-first record sync daemon",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "level", cfg.Log.Level)

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Build the sync engines
	transport := newTransport(cfg)
	processors := processor.NewRegistry(logger)
	broadcaster := syncengine.NewBroadcaster()

	pull := syncengine.NewPullEngine(db, transport, processors, broadcaster, logger)
	pull.SetLimit(cfg.Sync.PullLimit)
	pull.SetRetryPolicy(uint64(cfg.Sync.MaxRetries), time.Duration(cfg.Sync.RetryBackoff))

	push := syncengine.NewPushEngine(db, transport, logger)
	push.SetLimit(cfg.Sync.PushLimit)

	validate := syncengine.NewValidationEngine(db, transport, logger)
	validate.SetLimit(cfg.Sync.ValidateLimit)

	syncCoordinator := worker.NewSyncCoordinator(push, pull, db, time.Duration(cfg.Sync.Interval))
	validationCoordinator := worker.NewValidationCoordinator(validate, time.Duration(cfg.Sync.ValidationInterval))

	// 6. Initialize HTTP router
	handler := api.NewHandler(db, syncCoordinator, validate, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)

	// 7. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Start background workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "sync-coordinator", syncCoordinator.Run)
	startWorker(ctx, &wg, "validation-coordinator", validationCoordinator.Run)

	// 9. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 11a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 11b. Wait for workers to complete
	wg.Wait()

	// 11c. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newTransport(cfg *config.Config) *syncengine.HTTPTransport {
	headers := map[string]string{}
	if cfg.Upstream.TeamID != "" {
		headers["X-Team-Id"] = cfg.Upstream.TeamID
	}
	if cfg.Upstream.APIToken != "" {
		headers["Authorization"] = "Bearer " + cfg.Upstream.APIToken
	}
	return syncengine.NewHTTPTransport(syncengine.TransportConfig{
		BaseURL:     cfg.Upstream.BaseURL,
		Timeout:     time.Duration(cfg.Upstream.Timeout),
		Headers:     headers,
		FilterKey:   cfg.Upstream.FilterKey,
		FilterValue: cfg.Upstream.FilterValue,
		PullViaPOST: cfg.Upstream.PullViaPOST,
	})
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
