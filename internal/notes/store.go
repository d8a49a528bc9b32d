// Package notes owns note records: creation, lookup, listing, deletion and the
// version-checked update that detects lost writes.
package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/versioned-notes/internal/db"
	"github.com/kuitang/versioned-notes/internal/errs"
	"github.com/kuitang/versioned-notes/internal/obs"
)

const logPreviewChars = 80

// Store handles note CRUD over the db layer. It is safe for concurrent use.
type Store struct {
	db    *db.DB
	clock Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (tests).
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// NewStore creates a store over an opened, migrated database.
func NewStore(database *db.DB, opts ...Option) *Store {
	s := &Store{db: database, clock: systemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// now is truncated to the stored precision so returned values round-trip exactly.
func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func normalize(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", errs.New(errs.InvalidArgument, MsgEmptyContent)
	}
	return trimmed, nil
}

func notFoundOr(err error, action string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.New(errs.NotFound, MsgNotFound)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// validContent trims content for an update of id. Blank content is reported
// as NotFound when the id is unknown, so the lookup is a plain read and never
// takes the write lock.
func (s *Store) validContent(ctx context.Context, id int64, content string) (string, error) {
	trimmed, contentErr := normalize(content)
	if contentErr == nil {
		return trimmed, nil
	}
	if _, err := s.db.Queries().GetNoteVersion(ctx, id); err != nil {
		return "", notFoundOr(err, "read note version")
	}
	return "", contentErr
}

// Create stores trimmed content as a new note at version 1.
func (s *Store) Create(ctx context.Context, content string) (*Note, error) {
	trimmed, err := normalize(content)
	if err != nil {
		return nil, err
	}

	now := s.now()
	id, err := s.db.Queries().CreateNote(ctx, db.CreateNoteParams{
		Content:   trimmed,
		CreatedAt: now.UnixMicro(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	obs.From(ctx).With("pkg", "notes").Debug("note_created",
		"note_id", id,
		"preview", obs.TruncateForLog(trimmed, logPreviewChars),
	)

	return &Note{
		ID:        id,
		Content:   trimmed,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}, nil
}

// Get returns the note with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*Note, error) {
	row, err := s.db.Queries().GetNote(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "read note")
	}
	note := fromRow(row)
	return &note, nil
}

// List returns every note, newest first. Notes created in the same microsecond
// keep insertion order. A fresh call re-queries current state.
func (s *Store) List(ctx context.Context) ([]Note, error) {
	rows, err := s.db.Queries().ListNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	items := make([]Note, 0, len(rows))
	for _, row := range rows {
		items = append(items, fromRow(row))
	}
	return items, nil
}

// Count returns the number of stored notes.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.db.Queries().CountNotes(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return n, nil
}

// UpdateChecked replaces the note's content only if expectedVersion matches the
// stored version. Checks run in order: unknown id (NotFound), blank content
// (InvalidArgument), stale version (FailedPrecondition wrapping *VersionConflictError).
//
// The comparison and the write are a single conditional UPDATE, so two callers
// holding the same version can never both succeed.
func (s *Store) UpdateChecked(ctx context.Context, id int64, content string, expectedVersion int64) (*Note, error) {
	trimmed, err := s.validContent(ctx, id, content)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var updated db.Note
	err = s.db.WithTx(ctx, func(q *db.Queries) error {
		n, err := q.UpdateNoteIfVersion(ctx, db.UpdateNoteIfVersionParams{
			ID:              id,
			Content:         trimmed,
			UpdatedAt:       now.UnixMicro(),
			ExpectedVersion: expectedVersion,
		})
		if err != nil {
			return fmt.Errorf("failed to update note: %w", err)
		}
		if n == 0 {
			current, err := q.GetNoteVersion(ctx, id)
			if err != nil {
				return notFoundOr(err, "read note version")
			}
			return errs.Wrap(errs.FailedPrecondition, MsgVersionConflict, &VersionConflictError{
				NoteID:          id,
				ExpectedVersion: expectedVersion,
				CurrentVersion:  current,
			})
		}

		updated, err = q.GetNote(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read updated note: %w", err)
		}
		return nil
	})
	if err != nil {
		var conflict *VersionConflictError
		if errors.As(err, &conflict) {
			obs.From(ctx).With("pkg", "notes").Info("note_version_conflict",
				"note_id", id,
				"expected_version", conflict.ExpectedVersion,
				"current_version", conflict.CurrentVersion,
			)
		}
		return nil, err
	}

	obs.From(ctx).With("pkg", "notes").Debug("note_updated",
		"note_id", id,
		"version", updated.Version,
		"preview", obs.TruncateForLog(trimmed, logPreviewChars),
	)
	note := fromRow(updated)
	return &note, nil
}

// UpdateUncheckedUnsafe replaces the note's content without comparing versions.
// It silently overwrites concurrent changes and exists only for legacy callers;
// use UpdateChecked everywhere else. The version is still bumped by one.
func (s *Store) UpdateUncheckedUnsafe(ctx context.Context, id int64, content string) (*Note, error) {
	trimmed, err := s.validContent(ctx, id, content)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var updated db.Note
	err = s.db.WithTx(ctx, func(q *db.Queries) error {
		n, err := q.UpdateNote(ctx, db.UpdateNoteParams{
			ID:        id,
			Content:   trimmed,
			UpdatedAt: now.UnixMicro(),
		})
		if err != nil {
			return fmt.Errorf("failed to update note: %w", err)
		}
		if n == 0 {
			return errs.New(errs.NotFound, MsgNotFound)
		}

		updated, err = q.GetNote(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read updated note: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	obs.From(ctx).With("pkg", "notes").Warn("note_updated_unchecked",
		"note_id", id,
		"version", updated.Version,
	)
	note := fromRow(updated)
	return &note, nil
}

// Delete removes the note permanently. A second Delete of the same id is NotFound.
func (s *Store) Delete(ctx context.Context, id int64) error {
	n, err := s.db.Queries().DeleteNote(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if n == 0 {
		return errs.New(errs.NotFound, MsgNotFound)
	}
	obs.From(ctx).With("pkg", "notes").Debug("note_deleted", "note_id", id)
	return nil
}
