package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// ApplyPullBatch writes a fetched page of records and the new watermark in a
// single transaction. Re-applying the same page is a no-op beyond refreshed
// timestamps: clients dedup on baseEntityId, events on formSubmissionId.
//
// Records that fail to parse are logged and skipped; they never abort the
// page. A SQL failure rolls the whole page back, watermark included.
func (s *SQLiteStore) ApplyPullBatch(ctx context.Context, batch types.RecordBatch, watermark int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	clientSeq, err := nextRowSeq(ctx, tx, "clients")
	if err != nil {
		return err
	}
	for _, raw := range batch.Clients {
		doc, err := parseDocument(raw)
		if err != nil {
			slog.Warn("skipping unparseable client record", "error", err)
			continue
		}
		baseEntityID := doc.str(types.KeyBaseEntityID)
		if baseEntityID == "" {
			slog.Warn("skipping client record without baseEntityId")
			continue
		}
		status, validation := pulledStatuses(doc)
		if err := upsertClientRow(ctx, tx, baseEntityID, doc, status, &validation, clientSeq); err != nil {
			return err
		}
		clientSeq++
	}

	eventSeq, err := nextRowSeq(ctx, tx, "events")
	if err != nil {
		return err
	}
	for _, raw := range batch.Events {
		doc, err := parseDocument(raw)
		if err != nil {
			slog.Warn("skipping unparseable event record", "error", err)
			continue
		}
		if doc.str(types.KeyBaseEntityID) == "" {
			slog.Warn("skipping event record without baseEntityId")
			continue
		}
		status, validation := pulledStatuses(doc)
		formSubmissionID := doc.str(types.KeyFormSubmissionID)
		if err := upsertEventRow(ctx, tx, formSubmissionID, doc, status, &validation, eventSeq); err != nil {
			return err
		}
		eventSeq++
	}

	if err := setMeta(ctx, tx, metaWatermark, formatInt(watermark)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pull batch: %w", err)
	}
	return nil
}

// pulledStatuses resolves the stored statuses for a server-originated record.
// The server accepted the record, so the validation verdict is Valid; the
// sync status comes from the payload when present (and is stripped so it is
// not persisted inside the document), defaulting to Synced.
func pulledStatuses(doc document) (types.SyncStatus, types.ValidationStatus) {
	status := types.StatusSynced
	if s := doc.str(types.KeySyncStatus); s != "" {
		status = types.SyncStatus(s)
	}
	delete(doc, types.KeySyncStatus)
	return status, types.ValidationValid
}

// EventClientsByVersionRange returns the events whose serverVersion lies in
// [from, to], each joined with its owning client. This is the range handed to
// record processors after a page is applied.
func (s *SQLiteStore) EventClientsByVersionRange(ctx context.Context, from, to int64) ([]types.EventClient, error) {
	return s.eventClientsQuery(ctx,
		"SELECT "+eventColumns+" FROM events WHERE server_version > ? AND server_version <= ? ORDER BY server_version",
		from, to)
}

// EventsAfter returns up to limit events with row_seq greater than seq, in
// write order. This is the cursor contract peer devices read changes through.
func (s *SQLiteStore) EventsAfter(ctx context.Context, seq int64, limit int) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE row_seq > ? ORDER BY row_seq LIMIT ?", seq, limit)
	if err != nil {
		return nil, fmt.Errorf("query events after %d: %w", seq, err)
	}
	defer rows.Close()

	list := make([]types.Event, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// ClientsAfter returns up to limit clients with row_seq greater than seq, in
// write order.
func (s *SQLiteStore) ClientsAfter(ctx context.Context, seq int64, limit int) ([]types.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+clientColumns+" FROM clients WHERE row_seq > ? ORDER BY row_seq LIMIT ?", seq, limit)
	if err != nil {
		return nil, fmt.Errorf("query clients after %d: %w", seq, err)
	}
	defer rows.Close()

	list := make([]types.Client, 0, limit)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}
