package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DebugLog is the bridge's persistent diagnostic log: append-only lines,
// read and cleared in bulk, capped at limit entries (oldest dropped first).
type DebugLog struct {
	db    *sql.DB
	limit int
	now   func() time.Time
}

// OpenDebugLog opens (or creates) the SQLite debug log at path. limit <= 0
// keeps every entry.
func OpenDebugLog(path string, limit int) (*DebugLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating debug log dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening debug log: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS debug_log (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		logged_at TEXT NOT NULL,
		line      TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating debug log table: %w", err)
	}

	return &DebugLog{db: db, limit: limit, now: time.Now}, nil
}

// Append records one line and trims the log to its limit.
func (l *DebugLog) Append(ctx context.Context, line string) error {
	ts := l.now().UTC().Format("2006-01-02T15:04:05.000Z")
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO debug_log (logged_at, line) VALUES (?, ?)`, ts, line); err != nil {
		return fmt.Errorf("appending debug log: %w", err)
	}
	if l.limit <= 0 {
		return nil
	}
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM debug_log WHERE id NOT IN (
			SELECT id FROM debug_log ORDER BY id DESC LIMIT ?
		)`, l.limit); err != nil {
		return fmt.Errorf("trimming debug log: %w", err)
	}
	return nil
}

// Read returns every entry, oldest first, as "<timestamp> <line>".
func (l *DebugLog) Read(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT logged_at, line FROM debug_log ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("reading debug log: %w", err)
	}
	defer rows.Close()

	lines := []string{}
	for rows.Next() {
		var ts, line string
		if err := rows.Scan(&ts, &line); err != nil {
			return nil, fmt.Errorf("scanning debug log: %w", err)
		}
		lines = append(lines, ts+" "+line)
	}
	return lines, rows.Err()
}

// Clear removes every entry.
func (l *DebugLog) Clear(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM debug_log`); err != nil {
		return fmt.Errorf("clearing debug log: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (l *DebugLog) Close() error {
	return l.db.Close()
}
