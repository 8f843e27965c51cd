package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

const (
	metaWatermark   = "last_server_version"
	metaLastCheckAt = "last_check_at"
)

func getMeta(ctx context.Context, q queryer, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM sync_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

func setMeta(ctx context.Context, q queryer, key, value string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO sync_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// Watermark returns the highest server version fully applied so far.
func (s *SQLiteStore) Watermark(ctx context.Context) (int64, error) {
	value, err := getMeta(ctx, s.db, metaWatermark)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watermark %q: %w", value, err)
	}
	return v, nil
}

// SetWatermark records the pull watermark outside a batch apply.
func (s *SQLiteStore) SetWatermark(ctx context.Context, v int64) error {
	return setMeta(ctx, s.db, metaWatermark, formatInt(v))
}

// LastCheckAt returns the time of the last completed sync cycle, or nil when
// no cycle has completed yet.
func (s *SQLiteStore) LastCheckAt(ctx context.Context) (*time.Time, error) {
	value, err := getMeta(ctx, s.db, metaLastCheckAt)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("parse last check time %q: %w", value, err)
	}
	return &t, nil
}

// SetLastCheckAt records the completion time of a sync cycle.
func (s *SQLiteStore) SetLastCheckAt(ctx context.Context, t time.Time) error {
	return setMeta(ctx, s.db, metaLastCheckAt, t.UTC().Format(time.RFC3339))
}
