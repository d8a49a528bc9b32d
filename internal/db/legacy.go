package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// notesRebuild is the notes table in its current shape, created under a
// temporary name while legacy rows are copied across.
const notesRebuild = `
CREATE TABLE notes_rebuild (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
)`

type legacyNote struct {
	id        int64
	content   string
	createdAt sql.NullTime
	updatedAt sql.NullTime
	version   sql.NullInt64
}

// timestampColumnType reports the declared type of notes.created_at.
func (q *Queries) timestampColumnType(ctx context.Context) (string, error) {
	var declared string
	err := q.db.QueryRowContext(ctx,
		`SELECT type FROM pragma_table_info('notes') WHERE name = 'created_at'`,
	).Scan(&declared)
	return strings.ToUpper(strings.TrimSpace(declared)), err
}

// convertLegacyTimestamps rebuilds a notes table whose timestamps are declared
// DATETIME (text written by the first release) into Unix microseconds.
// The driver decodes DATETIME columns into time.Time, so values that fail to
// parse abort the migration instead of surfacing later as unreadable rows.
// It returns the number of rows copied and how many of them had no valid version.
func convertLegacyTimestamps(ctx context.Context, q *Queries) (converted, versionsFixed int64, err error) {
	declared, err := q.timestampColumnType(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to inspect notes table: %w", err)
	}
	if declared == "INTEGER" {
		return 0, 0, nil
	}

	rows, err := q.db.QueryContext(ctx, `SELECT id, content, created_at, updated_at, version FROM notes ORDER BY id`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read legacy notes: %w", err)
	}
	var legacy []legacyNote
	for rows.Next() {
		var n legacyNote
		if err := rows.Scan(&n.id, &n.content, &n.createdAt, &n.updatedAt, &n.version); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("legacy note has an unreadable %s timestamp: %w", declared, err)
		}
		legacy = append(legacy, n)
	}
	if err := rows.Close(); err != nil {
		return 0, 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("failed to read legacy notes: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, notesRebuild); err != nil {
		return 0, 0, fmt.Errorf("failed to create rebuild table: %w", err)
	}
	for _, n := range legacy {
		created, updated := legacyTimes(n.createdAt, n.updatedAt)
		version := n.version.Int64
		if !n.version.Valid || version < 1 {
			version = 1
			versionsFixed++
		}
		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO notes_rebuild (id, content, created_at, updated_at, version) VALUES (?, ?, ?, ?, ?)`,
			n.id, n.content, created, updated, version,
		); err != nil {
			return 0, 0, fmt.Errorf("failed to copy legacy note %d: %w", n.id, err)
		}
	}

	for _, stmt := range []string{
		`DROP TABLE notes`,
		`ALTER TABLE notes_rebuild RENAME TO notes`,
		`CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at DESC, id)`,
	} {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return 0, 0, fmt.Errorf("failed to swap rebuilt notes table: %w", err)
		}
	}
	return int64(len(legacy)), versionsFixed, nil
}

// legacyTimes fills a missing timestamp from its sibling and keeps
// updated_at >= created_at. Both missing maps to the epoch.
func legacyTimes(created, updated sql.NullTime) (int64, int64) {
	switch {
	case !created.Valid && !updated.Valid:
		return 0, 0
	case !created.Valid:
		created = updated
	case !updated.Valid:
		updated = created
	}
	c := created.Time.UTC().Truncate(time.Microsecond).UnixMicro()
	u := updated.Time.UTC().Truncate(time.Microsecond).UnixMicro()
	if u < c {
		u = c
	}
	return c, u
}
