// Package worker holds the background coordinators that drive sync and
// validation on their intervals.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/vitalsync/internal/metrics"
	"github.com/hyperengineering/vitalsync/internal/types"
)

// Pusher submits the local backlog to the server.
type Pusher interface {
	Push(ctx context.Context) (int, error)
}

// Puller drains the server feed into the local store.
type Puller interface {
	Pull(ctx context.Context) (types.FetchStatus, error)
}

// BacklogReader exposes the counts the coordinator publishes as gauges.
type BacklogReader interface {
	UnsyncedEventCount(ctx context.Context) (int, error)
	InvalidEventCount(ctx context.Context) (int, error)
}

// SyncCoordinator runs the push-then-pull cycle on an interval and on
// demand. Cycles are serialized: a trigger arriving while a cycle runs is
// coalesced into one follow-up cycle.
type SyncCoordinator struct {
	pusher   Pusher
	puller   Puller
	backlog  BacklogReader
	interval time.Duration

	trigger chan struct{}
}

// NewSyncCoordinator creates a coordinator that cycles every interval.
func NewSyncCoordinator(pusher Pusher, puller Puller, backlog BacklogReader, interval time.Duration) *SyncCoordinator {
	return &SyncCoordinator{
		pusher:   pusher,
		puller:   puller,
		backlog:  backlog,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate cycle. Never blocks; a request while one is
// already queued is absorbed.
func (c *SyncCoordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run starts the coordinator loop. It blocks until ctx is cancelled.
//
// A cycle runs immediately on start so a device coming online after a long
// gap does not wait out the full interval.
func (c *SyncCoordinator) Run(ctx context.Context) {
	slog.Info("sync coordinator started",
		"component", "worker",
		"worker", "sync-coordinator",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync coordinator stopped",
				"component", "worker",
				"worker", "sync-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.cycle(ctx)
		case <-c.trigger:
			c.cycle(ctx)
		}
	}
}

// cycle runs one push-then-pull pass. Push failures do not block the pull:
// fresh server records are still worth applying when the upload path is
// down.
func (c *SyncCoordinator) cycle(ctx context.Context) {
	start := time.Now()

	pushed, err := c.pusher.Push(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("push failed, continuing to pull",
			"component", "worker",
			"worker", "sync-coordinator",
			"error", err,
		)
	}
	if pushed > 0 {
		metrics.RecordsPushed.Add(float64(pushed))
	}

	status, err := c.puller.Pull(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}
	metrics.SyncCycles.WithLabelValues(string(status)).Inc()
	metrics.CycleDuration.Observe(time.Since(start).Seconds())

	c.publishBacklog(ctx)

	slog.Debug("sync cycle completed",
		"component", "worker",
		"worker", "sync-coordinator",
		"status", string(status),
		"pushed", pushed,
		"duration", time.Since(start).String(),
	)
}

func (c *SyncCoordinator) publishBacklog(ctx context.Context) {
	if c.backlog == nil {
		return
	}
	if n, err := c.backlog.UnsyncedEventCount(ctx); err == nil {
		metrics.UnsyncedBacklog.Set(float64(n))
	}
	if n, err := c.backlog.InvalidEventCount(ctx); err == nil {
		metrics.InvalidRecords.Set(float64(n))
	}
}
