package sync

import (
	"context"
	"log/slog"

	"github.com/hyperengineering/vitalsync/internal/store"
	"github.com/hyperengineering/vitalsync/internal/types"
)

// DefaultPushLimit is the number of events submitted per push request.
const DefaultPushLimit = 50

// PushEngine drains locally captured records to the server in bounded
// batches. Records are marked acknowledged only after the server accepts the
// batch, so an interrupted push resends rather than loses.
type PushEngine struct {
	store     store.Store
	transport Transport
	logger    *slog.Logger
	limit     int
}

func NewPushEngine(st store.Store, tr Transport, logger *slog.Logger) *PushEngine {
	return &PushEngine{store: st, transport: tr, logger: logger, limit: DefaultPushLimit}
}

// SetLimit overrides the batch size. Intended for tests.
func (p *PushEngine) SetLimit(limit int) { p.limit = limit }

// Push submits unsynced batches until the backlog drains. A transport
// failure stops the run; nothing in the failed batch is marked and the next
// run resends it. Returns the number of events acknowledged.
func (p *PushEngine) Push(ctx context.Context) (int, error) {
	return p.drain(ctx, p.store.UnsyncedBatch)
}

// ForcePush resends every event that is unsynced or lacks a Valid verdict,
// the resubmission sweep for server-side validation rule changes. Resent
// events stay verdict-less until the next validation round, so the sweep is
// bounded by the eligible count at the start rather than by the predicate
// draining.
func (p *PushEngine) ForcePush(ctx context.Context) (int, error) {
	remaining, err := p.store.ForceSyncEventCount(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for total < remaining {
		batch, err := p.store.ForceSyncBatch(ctx, p.limit)
		if err != nil {
			return total, err
		}
		if batch.Empty() {
			break
		}

		if err := p.transport.Push(ctx, batch); err != nil {
			p.logger.Error("force push failed",
				"events", len(batch.Events), "clients", len(batch.Clients), "error", err)
			return total, err
		}
		if err := p.store.MarkBatchSynced(ctx, batch); err != nil {
			return total, err
		}

		p.logger.Info("force push batch acknowledged",
			"events", len(batch.Events), "clients", len(batch.Clients))
		total += len(batch.Events)
	}
	return total, nil
}

func (p *PushEngine) drain(ctx context.Context, next func(context.Context, int) (types.RecordBatch, error)) (int, error) {
	total := 0
	for {
		batch, err := next(ctx, p.limit)
		if err != nil {
			return total, err
		}
		if batch.Empty() {
			return total, nil
		}

		if err := p.transport.Push(ctx, batch); err != nil {
			p.logger.Error("push failed",
				"events", len(batch.Events), "clients", len(batch.Clients), "error", err)
			return total, err
		}
		if err := p.store.MarkBatchSynced(ctx, batch); err != nil {
			return total, err
		}

		p.logger.Info("push batch acknowledged",
			"events", len(batch.Events), "clients", len(batch.Clients))
		total += len(batch.Events)

		// A short batch means the backlog is drained.
		if len(batch.Events) < p.limit {
			return total, nil
		}
	}
}
