// Package store implements the embedded record store: opaque JSON documents
// for clients and events, indexed metadata columns extracted on write, the
// sync watermark, and the status transitions the sync engines drive.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// Store is the persistence surface the sync engines and the API depend on.
// *SQLiteStore is the only implementation; tests substitute fakes for the
// engine-facing subset where useful.
type Store interface {
	// Local capture.
	UpsertClient(ctx context.Context, baseEntityID string, payload json.RawMessage, status types.SyncStatus) error
	UpsertEvent(ctx context.Context, payload json.RawMessage, status types.SyncStatus) (string, error)

	// Reads.
	ClientByBaseEntityID(ctx context.Context, baseEntityID string) (*types.Client, error)
	EventByFormSubmissionID(ctx context.Context, formSubmissionID string) (*types.Event, error)
	EventByEventID(ctx context.Context, eventID string) (*types.Event, error)
	EventsByBaseEntityID(ctx context.Context, baseEntityID string) ([]types.EventClient, error)
	EventsByUpdatedAt(ctx context.Context, since time.Time, status types.SyncStatus) ([]types.Event, error)
	EventClientsByVersionRange(ctx context.Context, from, to int64) ([]types.EventClient, error)
	EventsAfter(ctx context.Context, seq int64, limit int) ([]types.Event, error)
	ClientsAfter(ctx context.Context, seq int64, limit int) ([]types.Client, error)

	// Pull.
	ApplyPullBatch(ctx context.Context, batch types.RecordBatch, watermark int64) error
	Watermark(ctx context.Context) (int64, error)
	SetWatermark(ctx context.Context, v int64) error
	LastCheckAt(ctx context.Context) (*time.Time, error)
	SetLastCheckAt(ctx context.Context, t time.Time) error

	// Push and validation.
	UnsyncedBatch(ctx context.Context, limit int) (types.RecordBatch, error)
	ForceSyncBatch(ctx context.Context, limit int) (types.RecordBatch, error)
	ForceSyncEventCount(ctx context.Context) (int, error)
	UnvalidatedClientIDs(ctx context.Context, limit int) ([]string, error)
	UnvalidatedEventIDs(ctx context.Context, limit int) ([]string, error)
	MarkBatchSynced(ctx context.Context, batch types.RecordBatch) error
	MarkClientSynced(ctx context.Context, baseEntityID string) error
	MarkEventSynced(ctx context.Context, formSubmissionID string) error
	MarkClientValidation(ctx context.Context, baseEntityID string, valid bool) error
	MarkEventValidation(ctx context.Context, formSubmissionID string, valid bool) error
	MarkEventProcessed(ctx context.Context, formSubmissionID string) error
	MarkEventTaskUnprocessed(ctx context.Context, formSubmissionID string) error

	// Maintenance.
	UnsyncedEventCount(ctx context.Context) (int, error)
	InvalidEventCount(ctx context.Context) (int, error)
	StatusReport(ctx context.Context) (types.SyncStatusReport, error)
	DeleteClient(ctx context.Context, baseEntityID string) error
	DeleteEventsByBaseEntityID(ctx context.Context, baseEntityID, keepEventType string) error

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
