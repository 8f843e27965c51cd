package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// unsyncedEventPredicate selects events that still need pushing: anything not
// yet acknowledged, with a non-trivial payload and a known owning entity.
const unsyncedEventPredicate = "sync_status != 'Synced' AND length(json) > 2 AND base_entity_id IS NOT NULL AND base_entity_id != ''"

// UnsyncedBatch returns up to limit unsynced events plus every unsynced
// client that owns one of them, as the parallel payload arrays a push request
// carries. Clients already acknowledged are not re-sent.
func (s *SQLiteStore) UnsyncedBatch(ctx context.Context, limit int) (types.RecordBatch, error) {
	return s.pushBatch(ctx,
		"SELECT json, base_entity_id FROM events WHERE "+unsyncedEventPredicate+" ORDER BY row_seq LIMIT ?",
		limit)
}

// forceSyncEventPredicate selects the resubmission sweep set: every pushable
// event that is either unsynced or lacks a Valid verdict.
const forceSyncEventPredicate = "(sync_status != 'Synced' OR validation_status IS NULL OR validation_status != 'Valid') AND length(json) > 2 AND base_entity_id IS NOT NULL AND base_entity_id != ''"

// ForceSyncBatch returns up to limit events from the resubmission sweep set,
// oldest sequence first. Used after a server-side validation rule change
// invalidates records wholesale.
func (s *SQLiteStore) ForceSyncBatch(ctx context.Context, limit int) (types.RecordBatch, error) {
	return s.pushBatch(ctx,
		"SELECT json, base_entity_id FROM events WHERE "+forceSyncEventPredicate+" ORDER BY row_seq LIMIT ?",
		limit)
}

// ForceSyncEventCount returns the size of the resubmission sweep set.
func (s *SQLiteStore) ForceSyncEventCount(ctx context.Context) (int, error) {
	return s.countQuery(ctx, "SELECT COUNT(*) FROM events WHERE "+forceSyncEventPredicate)
}

func (s *SQLiteStore) pushBatch(ctx context.Context, eventQuery string, limit int) (types.RecordBatch, error) {
	var batch types.RecordBatch

	rows, err := s.db.QueryContext(ctx, eventQuery, limit)
	if err != nil {
		return batch, fmt.Errorf("query unsynced events: %w", err)
	}
	defer rows.Close()

	entityIDs := make([]string, 0, limit)
	seen := make(map[string]bool)
	for rows.Next() {
		var payload, baseEntityID string
		if err := rows.Scan(&payload, &baseEntityID); err != nil {
			return batch, fmt.Errorf("scan unsynced event: %w", err)
		}
		batch.Events = append(batch.Events, json.RawMessage(payload))
		if baseEntityID != "" && !seen[baseEntityID] {
			seen[baseEntityID] = true
			entityIDs = append(entityIDs, baseEntityID)
		}
	}
	if err := rows.Err(); err != nil {
		return batch, err
	}

	for _, id := range entityIDs {
		var payload string
		err := s.db.QueryRowContext(ctx,
			"SELECT json FROM clients WHERE base_entity_id = ? AND sync_status != 'Synced' AND length(json) > 2",
			id).Scan(&payload)
		if err != nil {
			continue
		}
		batch.Clients = append(batch.Clients, json.RawMessage(payload))
	}

	return batch, nil
}

// unvalidatedPredicate selects acknowledged records with no Valid verdict yet.
const unvalidatedPredicate = "sync_status = 'Synced' AND (validation_status IS NULL OR validation_status != 'Valid')"

// UnvalidatedClientIDs returns up to limit client ids eligible for a
// validation round trip.
func (s *SQLiteStore) UnvalidatedClientIDs(ctx context.Context, limit int) ([]string, error) {
	return s.idQuery(ctx,
		"SELECT base_entity_id FROM clients WHERE "+unvalidatedPredicate+" ORDER BY row_seq LIMIT ?", limit)
}

// UnvalidatedEventIDs returns up to limit event submission ids eligible for a
// validation round trip. A Valid verdict on an event still lacking a server
// version predates the server's acceptance, so the event stays eligible until
// a pull confirms it.
func (s *SQLiteStore) UnvalidatedEventIDs(ctx context.Context, limit int) ([]string, error) {
	return s.idQuery(ctx,
		"SELECT form_submission_id FROM events WHERE sync_status = 'Synced' "+
			"AND (validation_status IS NULL OR validation_status != 'Valid' OR server_version IS NULL) "+
			"AND form_submission_id IS NOT NULL ORDER BY row_seq LIMIT ?", limit)
}

func (s *SQLiteStore) idQuery(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- counts and status report ---

func (s *SQLiteStore) countQuery(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	return n, nil
}

// UnsyncedEventCount returns the number of events awaiting push.
func (s *SQLiteStore) UnsyncedEventCount(ctx context.Context) (int, error) {
	return s.countQuery(ctx, "SELECT COUNT(*) FROM events WHERE "+unsyncedEventPredicate)
}

// InvalidEventCount returns the number of events the server flagged invalid.
func (s *SQLiteStore) InvalidEventCount(ctx context.Context) (int, error) {
	return s.countQuery(ctx, "SELECT COUNT(*) FROM events WHERE validation_status = 'Invalid'")
}

// StatusReport assembles the backlog summary without materializing records.
func (s *SQLiteStore) StatusReport(ctx context.Context) (types.SyncStatusReport, error) {
	var report types.SyncStatusReport
	counts := []struct {
		dest  *int
		query string
	}{
		{&report.UnsyncedClients, "SELECT COUNT(*) FROM clients WHERE sync_status != 'Synced' AND length(json) > 2"},
		{&report.UnsyncedEvents, "SELECT COUNT(*) FROM events WHERE " + unsyncedEventPredicate},
		{&report.InvalidClients, "SELECT COUNT(*) FROM clients WHERE validation_status = 'Invalid'"},
		{&report.InvalidEvents, "SELECT COUNT(*) FROM events WHERE validation_status = 'Invalid'"},
		{&report.TotalClients, "SELECT COUNT(*) FROM clients"},
		{&report.TotalEvents, "SELECT COUNT(*) FROM events"},
	}
	for _, c := range counts {
		n, err := s.countQuery(ctx, c.query)
		if err != nil {
			return report, err
		}
		*c.dest = n
	}

	watermark, err := s.Watermark(ctx)
	if err != nil {
		return report, err
	}
	report.Watermark = watermark

	lastCheck, err := s.LastCheckAt(ctx)
	if err != nil {
		return report, err
	}
	report.LastCheckAt = lastCheck

	return report, nil
}

// --- status transitions ---

// markRow flips sync and validation status on one row, bumping row_seq so the
// change is visible to sequence cursors.
func markRow(ctx context.Context, q queryer, table, keyColumn, keyValue string, status types.SyncStatus, validation types.ValidationStatus) error {
	_, err := q.ExecContext(ctx,
		"UPDATE "+table+" SET sync_status = ?, validation_status = ?, updated_at = ?, "+
			"row_seq = (SELECT COALESCE(MAX(row_seq), 0) + 1 FROM "+table+") WHERE "+keyColumn+" = ?",
		string(status), validationColumn(validation), time.Now().Format(timeFormat), keyValue)
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", table, keyValue, err)
	}
	return nil
}

// markSyncedRow records a push acknowledgement. Only the sync status moves;
// any validation verdict is left untouched so the record still reaches the
// validation pass.
func markSyncedRow(ctx context.Context, q queryer, table, keyColumn, keyValue string) error {
	_, err := q.ExecContext(ctx,
		"UPDATE "+table+" SET sync_status = ?, updated_at = ?, "+
			"row_seq = (SELECT COALESCE(MAX(row_seq), 0) + 1 FROM "+table+") WHERE "+keyColumn+" = ?",
		string(types.StatusSynced), time.Now().Format(timeFormat), keyValue)
	if err != nil {
		return fmt.Errorf("mark %s %s synced: %w", table, keyValue, err)
	}
	return nil
}

// MarkClientSynced records the server's acknowledgement of a pushed client.
func (s *SQLiteStore) MarkClientSynced(ctx context.Context, baseEntityID string) error {
	return markSyncedRow(ctx, s.db, "clients", "base_entity_id", baseEntityID)
}

// MarkEventSynced records the server's acknowledgement of a pushed event.
func (s *SQLiteStore) MarkEventSynced(ctx context.Context, formSubmissionID string) error {
	return markSyncedRow(ctx, s.db, "events", "form_submission_id", formSubmissionID)
}

// MarkBatchSynced acknowledges every record in a pushed batch, in one
// transaction. Record keys are read back out of the payloads; a payload
// missing its key is logged and skipped.
func (s *SQLiteStore) MarkBatchSynced(ctx context.Context, batch types.RecordBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, raw := range batch.Clients {
		doc, err := parseDocument(raw)
		if err != nil {
			slog.Warn("skipping client acknowledgement", "error", err)
			continue
		}
		id := doc.str(types.KeyBaseEntityID)
		if id == "" {
			slog.Warn("skipping client acknowledgement without baseEntityId")
			continue
		}
		if err := markSyncedRow(ctx, tx, "clients", "base_entity_id", id); err != nil {
			return err
		}
	}
	for _, raw := range batch.Events {
		doc, err := parseDocument(raw)
		if err != nil {
			slog.Warn("skipping event acknowledgement", "error", err)
			continue
		}
		id := doc.str(types.KeyFormSubmissionID)
		if id == "" {
			slog.Warn("skipping event acknowledgement without formSubmissionId")
			continue
		}
		if err := markSyncedRow(ctx, tx, "events", "form_submission_id", id); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit acknowledgements: %w", err)
	}
	return nil
}

// MarkClientValidation applies a validation verdict to a client. An invalid
// verdict re-queues the record for push.
func (s *SQLiteStore) MarkClientValidation(ctx context.Context, baseEntityID string, valid bool) error {
	if valid {
		return markRow(ctx, s.db, "clients", "base_entity_id", baseEntityID, types.StatusSynced, types.ValidationValid)
	}
	return markRow(ctx, s.db, "clients", "base_entity_id", baseEntityID, types.StatusUnsynced, types.ValidationInvalid)
}

// MarkEventValidation applies a validation verdict to an event, keyed by its
// submission id. An invalid verdict re-queues the record for push.
func (s *SQLiteStore) MarkEventValidation(ctx context.Context, formSubmissionID string, valid bool) error {
	if valid {
		return markRow(ctx, s.db, "events", "form_submission_id", formSubmissionID, types.StatusSynced, types.ValidationValid)
	}
	return markRow(ctx, s.db, "events", "form_submission_id", formSubmissionID, types.StatusUnsynced, types.ValidationInvalid)
}

// MarkEventProcessed advances an Unprocessed event to Synced once local
// processing finishes. Events already flagged Valid by the server keep their
// verdict; anything not in Unprocessed state is left untouched.
func (s *SQLiteStore) MarkEventProcessed(ctx context.Context, formSubmissionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE events SET sync_status = ?, updated_at = ?, "+
			"row_seq = (SELECT COALESCE(MAX(row_seq), 0) + 1 FROM events) "+
			"WHERE form_submission_id = ? AND sync_status = ?",
		string(types.StatusSynced), time.Now().Format(timeFormat), formSubmissionID, string(types.StatusUnprocessed))
	if err != nil {
		return fmt.Errorf("mark event processed %s: %w", formSubmissionID, err)
	}
	return nil
}

// MarkEventTaskUnprocessed parks an event for deferred task generation.
func (s *SQLiteStore) MarkEventTaskUnprocessed(ctx context.Context, formSubmissionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE events SET sync_status = ?, updated_at = ?, "+
			"row_seq = (SELECT COALESCE(MAX(row_seq), 0) + 1 FROM events) "+
			"WHERE form_submission_id = ?",
		string(types.StatusTaskUnprocessed), time.Now().Format(timeFormat), formSubmissionID)
	if err != nil {
		return fmt.Errorf("mark event task unprocessed %s: %w", formSubmissionID, err)
	}
	return nil
}

// --- deletion ---

// DeleteClient removes a client row.
func (s *SQLiteStore) DeleteClient(ctx context.Context, baseEntityID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM clients WHERE base_entity_id = ?", baseEntityID)
	if err != nil {
		return fmt.Errorf("delete client %s: %w", baseEntityID, err)
	}
	return nil
}

// DeleteEventsByBaseEntityID removes an entity's events except those of
// keepEventType, used when a corrective event supersedes earlier history.
func (s *SQLiteStore) DeleteEventsByBaseEntityID(ctx context.Context, baseEntityID, keepEventType string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE base_entity_id = ? AND event_type != ?", baseEntityID, keepEventType)
	if err != nil {
		return fmt.Errorf("delete events for %s: %w", baseEntityID, err)
	}
	return nil
}
