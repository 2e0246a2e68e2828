package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteDevice persists device state in a single SQLite file. The
// quota covers the sum of key and value sizes and is checked inside
// the write transaction.
type SQLiteDevice struct {
	db    *sql.DB
	quota int64
}

// OpenSQLiteDevice opens (or creates) a SQLite-backed device at path.
// A non-positive quota falls back to DefaultQuota.
func OpenSQLiteDevice(path string, quota int64) (*SQLiteDevice, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("device path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite device: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite device: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &SQLiteDevice{db: db, quota: quota}, nil
}

// Get reads a value.
func (d *SQLiteDevice) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read key %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts a value. The quota is evaluated and the row written in
// one transaction so concurrent writers cannot overshoot the budget.
func (d *SQLiteDevice) Set(ctx context.Context, key string, value []byte) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var used int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM kv WHERE key != ?`, key,
	).Scan(&used)
	if err != nil {
		return fmt.Errorf("measure usage: %w", err)
	}
	if used+int64(len(key)+len(value)) > d.quota {
		return ErrQuotaExceeded
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write key %s: %w", key, err)
	}
	return tx.Commit()
}

// Delete removes a key.
func (d *SQLiteDevice) Delete(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys in sorted order.
func (d *SQLiteDevice) Keys(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Stats reports usage against the quota.
func (d *SQLiteDevice) Stats(ctx context.Context) (DeviceStats, error) {
	var used int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM kv`,
	).Scan(&used)
	if err != nil {
		return DeviceStats{}, fmt.Errorf("measure usage: %w", err)
	}
	return DeviceStats{Used: used, Quota: d.quota}, nil
}

// Close closes the SQLite handle.
func (d *SQLiteDevice) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}
