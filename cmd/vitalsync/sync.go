package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hyperengineering/vitalsync/internal/config"
	"github.com/hyperengineering/vitalsync/internal/processor"
	"github.com/hyperengineering/vitalsync/internal/store"
	syncengine "github.com/hyperengineering/vitalsync/internal/sync"
	"github.com/spf13/cobra"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one push-then-pull cycle and exit",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false,
		"Also resend every event without a Valid server verdict")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	transport := newTransport(cfg)
	ctx := cmd.Context()

	push := syncengine.NewPushEngine(db, transport, logger)
	push.SetLimit(cfg.Sync.PushLimit)

	pushed, err := push.Push(ctx)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if syncForce {
		forced, err := push.ForcePush(ctx)
		if err != nil {
			return fmt.Errorf("force push: %w", err)
		}
		pushed += forced
	}

	pull := syncengine.NewPullEngine(db, transport, processor.NewRegistry(logger), nil, logger)
	pull.SetLimit(cfg.Sync.PullLimit)
	pull.SetRetryPolicy(uint64(cfg.Sync.MaxRetries), time.Duration(cfg.Sync.RetryBackoff))

	status, err := pull.Pull(ctx)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "pushed %d events, pull finished with %s\n", pushed, status)
	return nil
}
