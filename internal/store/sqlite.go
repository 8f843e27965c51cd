package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// timeFormat is the canonical column format for updated_at and the extracted
// date columns. Lexicographic order matches chronological order.
const timeFormat = "2006-01-02 15:04:05"

// SQLiteStore is the embedded record store for client and event documents.
// It owns the schema, the indexed-column extraction rules, and the row_seq
// write counter. A single *sql.DB serializes writers; every multi-row
// mutation runs in one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath, enables
// WAL mode and the standard pragmas, and applies migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- payload documents and indexed-column extraction ---

// document is the parsed view of an opaque record payload.
type document map[string]any

func parseDocument(raw json.RawMessage) (document, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return doc, nil
}

func (d document) str(key string) string {
	if v, ok := d[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

type columnKind int

const (
	kindText columnKind = iota
	kindDate
	kindInteger
)

// columnRule maps a payload key to an indexed column. Columns not covered by
// a rule are handled explicitly by the write paths.
type columnRule struct {
	column string
	key    string
	kind   columnKind
}

var eventColumnRules = []columnRule{
	{"event_id", types.KeyEventID, kindText},
	{"event_type", types.KeyEventType, kindText},
	{"event_date", types.KeyEventDate, kindDate},
	{"date_created", types.KeyDateCreated, kindDate},
	{"date_edited", types.KeyDateEdited, kindDate},
	{"server_version", types.KeyServerVersion, kindInteger},
}

// extractColumns applies the rule table to doc. Only keys present in the
// payload yield columns; a value that fails coercion is logged and skipped,
// never fatal to the surrounding write.
func extractColumns(rules []columnRule, doc document) map[string]any {
	cols := make(map[string]any, len(rules))
	for _, rule := range rules {
		v, ok := doc[rule.key]
		if !ok || v == nil {
			continue
		}
		coerced, err := coerceColumn(rule.kind, v)
		if err != nil {
			slog.Warn("skipping indexed column", "column", rule.column, "error", err)
			continue
		}
		cols[rule.column] = coerced
	}
	return cols
}

func coerceColumn(kind columnKind, v any) (any, error) {
	switch kind {
	case kindDate:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("date value %v is not a string", v)
		}
		t, err := parseFlexibleTime(s)
		if err != nil {
			return nil, err
		}
		return t.Format(timeFormat), nil
	case kindInteger:
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case string:
			parsed, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse integer %q: %w", n, err)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("integer value %v has type %T", v, v)
		}
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// parseFlexibleTime accepts the formats payloads are observed to carry.
func parseFlexibleTime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		timeFormat,
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// NewFormSubmissionID mints the submission identifier assigned to locally
// captured events that arrive without one.
func NewFormSubmissionID() string {
	return ulid.Make().String()
}

// --- row sequence ---

// nextRowSeq resolves the next write-sequence value for a table. Batch
// writers call this once and increment locally.
func nextRowSeq(ctx context.Context, q queryer, table string) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(row_seq), 0) FROM "+table).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("resolve row_seq for %s: %w", table, err)
	}
	return seq + 1, nil
}

// queryer abstracts *sql.DB and *sql.Tx for the helpers shared between
// single writes and batches.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- local capture writes ---

// UpsertClient writes a locally captured client document. An existing row
// with the same baseEntityID is updated in place; columns whose payload keys
// are absent keep their previous values. Every call bumps row_seq and
// updated_at.
func (s *SQLiteStore) UpsertClient(ctx context.Context, baseEntityID string, payload json.RawMessage, status types.SyncStatus) error {
	if baseEntityID == "" {
		return ErrMissingEntityKey
	}
	doc, err := parseDocument(payload)
	if err != nil {
		return err
	}

	seq, err := nextRowSeq(ctx, s.db, "clients")
	if err != nil {
		return err
	}
	return upsertClientRow(ctx, s.db, baseEntityID, doc, status, nil, seq)
}

// UpsertEvent writes a locally captured event document. Events are deduped
// on formSubmissionId; when the payload lacks one a fresh ULID is assigned
// and returned. The default capture status is Unprocessed, matching the
// form-submission flow.
func (s *SQLiteStore) UpsertEvent(ctx context.Context, payload json.RawMessage, status types.SyncStatus) (string, error) {
	doc, err := parseDocument(payload)
	if err != nil {
		return "", err
	}
	if doc.str(types.KeyBaseEntityID) == "" {
		return "", ErrMissingEntityKey
	}

	formSubmissionID := doc.str(types.KeyFormSubmissionID)
	if formSubmissionID == "" {
		formSubmissionID = NewFormSubmissionID()
		doc[types.KeyFormSubmissionID] = formSubmissionID
	}

	seq, err := nextRowSeq(ctx, s.db, "events")
	if err != nil {
		return "", err
	}
	if err := upsertEventRow(ctx, s.db, formSubmissionID, doc, status, nil, seq); err != nil {
		return "", err
	}
	return formSubmissionID, nil
}

// upsertClientRow inserts or updates one client row. validation is nil for
// local writes (leave unset / keep existing) and non-nil on the pull path.
func upsertClientRow(ctx context.Context, q queryer, baseEntityID string, doc document, status types.SyncStatus, validation *types.ValidationStatus, seq int64) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	now := time.Now().Format(timeFormat)

	var exists bool
	err = q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM clients WHERE base_entity_id = ?)", baseEntityID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check client exists: %w", err)
	}

	cols := map[string]any{
		"json":        string(raw),
		"sync_status": string(status),
		"updated_at":  now,
		"row_seq":     seq,
	}
	if validation != nil {
		cols["validation_status"] = validationColumn(*validation)
	}

	if exists {
		query, args := buildUpdate("clients", cols, "base_entity_id", baseEntityID)
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update client %s: %w", baseEntityID, err)
		}
		return nil
	}

	cols["base_entity_id"] = baseEntityID
	query, args := buildInsert("clients", cols)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert client %s: %w", baseEntityID, err)
	}
	return nil
}

// upsertEventRow inserts or updates one event row keyed by formSubmissionID.
// An empty formSubmissionID inserts unconditionally (server-originated
// events without a submission id are never deduplicated).
func upsertEventRow(ctx context.Context, q queryer, formSubmissionID string, doc document, status types.SyncStatus, validation *types.ValidationStatus, seq int64) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	now := time.Now().Format(timeFormat)

	cols := extractColumns(eventColumnRules, doc)
	cols["json"] = string(raw)
	cols["base_entity_id"] = doc.str(types.KeyBaseEntityID)
	cols["sync_status"] = string(status)
	cols["updated_at"] = now
	cols["row_seq"] = seq
	if validation != nil {
		cols["validation_status"] = validationColumn(*validation)
	}

	if formSubmissionID != "" {
		var exists bool
		err = q.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM events WHERE form_submission_id = ?)", formSubmissionID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check event exists: %w", err)
		}
		if exists {
			query, args := buildUpdate("events", cols, "form_submission_id", formSubmissionID)
			if _, err := q.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("update event %s: %w", formSubmissionID, err)
			}
			return nil
		}
		cols["form_submission_id"] = formSubmissionID
	}

	query, args := buildInsert("events", cols)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// validationColumn translates the enum to its stored representation; the
// unset verdict is stored as NULL so the SQL predicates can use IS NULL.
func validationColumn(v types.ValidationStatus) any {
	if v == types.ValidationUnset {
		return nil
	}
	return string(v)
}

func buildInsert(table string, cols map[string]any) (string, []any) {
	names := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, name := range orderedKeys(cols) {
		names = append(names, name)
		placeholders = append(placeholders, "?")
		args = append(args, cols[name])
	}
	query := "INSERT INTO " + table + " (" + join(names) + ") VALUES (" + join(placeholders) + ")"
	return query, args
}

func buildUpdate(table string, cols map[string]any, keyColumn, keyValue string) (string, []any) {
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, name := range orderedKeys(cols) {
		sets = append(sets, name+" = ?")
		args = append(args, cols[name])
	}
	args = append(args, keyValue)
	query := "UPDATE " + table + " SET " + join(sets) + " WHERE " + keyColumn + " = ?"
	return query, args
}

// orderedKeys keeps generated SQL deterministic.
func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func join(parts []string) string {
	return strings.Join(parts, ", ")
}

// --- scanning ---

const clientColumns = "base_entity_id, sync_status, validation_status, json, updated_at, row_seq"

func scanClient(scanner interface{ Scan(...any) error }) (*types.Client, error) {
	var c types.Client
	var syncStatus, updatedAt sql.NullString
	var validation sql.NullString
	var payload sql.NullString

	if err := scanner.Scan(&c.BaseEntityID, &syncStatus, &validation, &payload, &updatedAt, &c.RowSeq); err != nil {
		return nil, err
	}
	c.SyncStatus = types.SyncStatus(syncStatus.String)
	if validation.Valid {
		c.ValidationStatus = types.ValidationStatus(validation.String)
	}
	if payload.Valid {
		c.Payload = json.RawMessage(payload.String)
	}
	if updatedAt.Valid {
		if t, err := time.Parse(timeFormat, updatedAt.String); err == nil {
			c.UpdatedAt = t
		}
	}
	return &c, nil
}

const eventColumns = "event_id, base_entity_id, form_submission_id, event_type, sync_status, validation_status, json, updated_at, server_version, row_seq"

func scanEvent(scanner interface{ Scan(...any) error }) (*types.Event, error) {
	var e types.Event
	var eventID, baseEntityID, formSubmissionID, eventType sql.NullString
	var syncStatus, validation, payload, updatedAt sql.NullString
	var serverVersion sql.NullInt64

	if err := scanner.Scan(&eventID, &baseEntityID, &formSubmissionID, &eventType,
		&syncStatus, &validation, &payload, &updatedAt, &serverVersion, &e.RowSeq); err != nil {
		return nil, err
	}
	e.EventID = eventID.String
	e.BaseEntityID = baseEntityID.String
	e.FormSubmissionID = formSubmissionID.String
	e.EventType = eventType.String
	e.SyncStatus = types.SyncStatus(syncStatus.String)
	if validation.Valid {
		e.ValidationStatus = types.ValidationStatus(validation.String)
	}
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	if serverVersion.Valid {
		e.ServerVersion = serverVersion.Int64
	}
	if updatedAt.Valid {
		if t, err := time.Parse(timeFormat, updatedAt.String); err == nil {
			e.UpdatedAt = t
		}
	}
	return &e, nil
}

// --- point queries ---

// ClientByBaseEntityID returns the client with the given entity key.
func (s *SQLiteStore) ClientByBaseEntityID(ctx context.Context, baseEntityID string) (*types.Client, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+clientColumns+" FROM clients WHERE base_entity_id = ?", baseEntityID)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan client: %w", err)
	}
	return c, nil
}

// EventByFormSubmissionID returns the event with the given submission key.
func (s *SQLiteStore) EventByFormSubmissionID(ctx context.Context, formSubmissionID string) (*types.Event, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE form_submission_id = ?", formSubmissionID)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return e, nil
}

// EventByEventID returns the event with the given external correlation id.
func (s *SQLiteStore) EventByEventID(ctx context.Context, eventID string) (*types.Event, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE event_id = ?", eventID)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return e, nil
}

// EventsByBaseEntityID returns every event owned by the entity, each joined
// with the owning client when one exists.
func (s *SQLiteStore) EventsByBaseEntityID(ctx context.Context, baseEntityID string) ([]types.EventClient, error) {
	return s.eventClientsQuery(ctx,
		"SELECT "+eventColumns+" FROM events WHERE base_entity_id = ? ORDER BY server_version", baseEntityID)
}

// EventsByUpdatedAt returns events of the given sync status touched at or
// after since, oldest first.
func (s *SQLiteStore) EventsByUpdatedAt(ctx context.Context, since time.Time, status types.SyncStatus) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE updated_at >= ? AND sync_status = ? ORDER BY updated_at",
		since.Format(timeFormat), string(status))
	if err != nil {
		return nil, fmt.Errorf("query events by updated_at: %w", err)
	}
	defer rows.Close()

	list := make([]types.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// eventClientsQuery runs an event query and joins each row with its owning
// client. Rows with blank payloads are skipped.
func (s *SQLiteStore) eventClientsQuery(ctx context.Context, query string, args ...any) ([]types.EventClient, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	list := make([]types.EventClient, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(e.Payload) <= 2 {
			continue
		}
		ec := types.EventClient{Event: *e}
		if e.BaseEntityID != "" {
			if c, err := s.ClientByBaseEntityID(ctx, e.BaseEntityID); err == nil {
				ec.Client = c
			}
		}
		list = append(list, ec)
	}
	return list, rows.Err()
}
