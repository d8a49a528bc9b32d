package db

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the hand-written, typed statements for the notes and shares tables.
type Queries struct {
	db DBTX
}

// New binds Queries to a connection pool or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy of q bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Note is a row of the notes table.
type Note struct {
	ID        int64
	Content   string
	CreatedAt int64
	UpdatedAt int64
	Version   int64
}

const noteColumns = `id, content, created_at, updated_at, version`

func scanNote(row interface{ Scan(...any) error }) (Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.Content, &n.CreatedAt, &n.UpdatedAt, &n.Version)
	return n, err
}

// CreateNoteParams are the inputs of CreateNote.
type CreateNoteParams struct {
	Content   string
	CreatedAt int64
}

const createNote = `INSERT INTO notes (content, created_at, updated_at, version) VALUES (?, ?, ?, 1)`

// CreateNote inserts a note at version 1 and returns its id.
func (q *Queries) CreateNote(ctx context.Context, arg CreateNoteParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, createNote, arg.Content, arg.CreatedAt, arg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const getNote = `SELECT ` + noteColumns + ` FROM notes WHERE id = ?`

// GetNote returns sql.ErrNoRows when the id does not exist.
func (q *Queries) GetNote(ctx context.Context, id int64) (Note, error) {
	return scanNote(q.db.QueryRowContext(ctx, getNote, id))
}

const getNoteVersion = `SELECT version FROM notes WHERE id = ?`

// GetNoteVersion returns sql.ErrNoRows when the id does not exist.
func (q *Queries) GetNoteVersion(ctx context.Context, id int64) (int64, error) {
	var version int64
	err := q.db.QueryRowContext(ctx, getNoteVersion, id).Scan(&version)
	return version, err
}

// Newest first; equal timestamps keep insertion order.
const listNotes = `SELECT ` + noteColumns + ` FROM notes ORDER BY created_at DESC, id ASC`

// ListNotes returns every note, newest first.
func (q *Queries) ListNotes(ctx context.Context) ([]Note, error) {
	rows, err := q.db.QueryContext(ctx, listNotes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countNotes = `SELECT COUNT(*) FROM notes`

// CountNotes returns the number of stored notes.
func (q *Queries) CountNotes(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countNotes).Scan(&count)
	return count, err
}

// UpdateNoteIfVersionParams are the inputs of UpdateNoteIfVersion.
type UpdateNoteIfVersionParams struct {
	ID              int64
	Content         string
	UpdatedAt       int64
	ExpectedVersion int64
}

// Compare-and-swap on version. updated_at never moves backwards.
const updateNoteIfVersion = `
UPDATE notes
SET content = ?, updated_at = MAX(?, updated_at), version = version + 1
WHERE id = ? AND version = ?`

// UpdateNoteIfVersion applies the mutation only when the stored version equals
// ExpectedVersion. It returns the number of rows changed (0 or 1).
func (q *Queries) UpdateNoteIfVersion(ctx context.Context, arg UpdateNoteIfVersionParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateNoteIfVersion, arg.Content, arg.UpdatedAt, arg.ID, arg.ExpectedVersion)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateNoteParams are the inputs of UpdateNote.
type UpdateNoteParams struct {
	ID        int64
	Content   string
	UpdatedAt int64
}

const updateNote = `
UPDATE notes
SET content = ?, updated_at = MAX(?, updated_at), version = version + 1
WHERE id = ?`

// UpdateNote applies the mutation without a version predicate.
// It returns the number of rows changed (0 or 1).
func (q *Queries) UpdateNote(ctx context.Context, arg UpdateNoteParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateNote, arg.Content, arg.UpdatedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteNote = `DELETE FROM notes WHERE id = ?`

// DeleteNote removes the row permanently and returns the number of rows deleted.
func (q *Queries) DeleteNote(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteNote, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Share is a row of the shares table.
type Share struct {
	ID        int64
	ShortID   string
	NoteID    int64
	Content   string
	Version   int64
	CreatedAt int64
}

// CreateShareParams are the inputs of CreateShare.
type CreateShareParams struct {
	ShortID   string
	NoteID    int64
	Content   string
	Version   int64
	CreatedAt int64
}

const createShare = `INSERT INTO shares (short_id, note_id, content, version, created_at) VALUES (?, ?, ?, ?, ?)`

// CreateShare inserts a snapshot row. A duplicate short_id fails with a UNIQUE constraint error.
func (q *Queries) CreateShare(ctx context.Context, arg CreateShareParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, createShare, arg.ShortID, arg.NoteID, arg.Content, arg.Version, arg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const getShareByShortID = `SELECT id, short_id, note_id, content, version, created_at FROM shares WHERE short_id = ?`

// GetShareByShortID returns sql.ErrNoRows when the short id does not exist.
func (q *Queries) GetShareByShortID(ctx context.Context, shortID string) (Share, error) {
	var s Share
	err := q.db.QueryRowContext(ctx, getShareByShortID, shortID).
		Scan(&s.ID, &s.ShortID, &s.NoteID, &s.Content, &s.Version, &s.CreatedAt)
	return s, err
}

const getShareByNoteVersion = `SELECT id, short_id, note_id, content, version, created_at FROM shares WHERE note_id = ? AND version = ? ORDER BY id LIMIT 1`

// GetShareByNoteVersion finds an existing snapshot of a note at a version.
func (q *Queries) GetShareByNoteVersion(ctx context.Context, noteID, version int64) (Share, error) {
	var s Share
	err := q.db.QueryRowContext(ctx, getShareByNoteVersion, noteID, version).
		Scan(&s.ID, &s.ShortID, &s.NoteID, &s.Content, &s.Version, &s.CreatedAt)
	return s, err
}
