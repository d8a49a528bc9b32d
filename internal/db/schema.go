package db

// Schema holds the CREATE statements for a fresh database.
// Timestamps are Unix microseconds (UTC).
const Schema = `
-- Notes: the only entity. version starts at 1 and is bumped by every content change.
CREATE TABLE IF NOT EXISTS notes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at DESC, id);

-- Shares: immutable snapshots of a note at a given version, addressed by a short id.
CREATE TABLE IF NOT EXISTS shares (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    short_id TEXT UNIQUE NOT NULL,
    note_id INTEGER NOT NULL,
    content TEXT NOT NULL,
    version INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shares_note_id ON shares(note_id);
`

// Migrations contains idempotent ALTER TABLE statements for databases created
// before the version column existed. "duplicate column name" errors are ignored.
const Migrations = `
ALTER TABLE notes ADD COLUMN version INTEGER NOT NULL DEFAULT 1;
`

// VersionBackfill repairs rows written by older builds that left version NULL or 0.
// It runs once per start as part of Migrate, never on the update path.
const VersionBackfill = `UPDATE notes SET version = 1 WHERE version IS NULL OR version < 1`
