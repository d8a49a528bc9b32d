// Package share freezes a note's content at its current version behind a short id.
// Short IDs are 6 characters from [a-zA-Z0-9_-] (64 chars = 64^6 = ~69 billion combinations).
package share

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/versioned-notes/internal/db"
	"github.com/kuitang/versioned-notes/internal/errs"
	"github.com/kuitang/versioned-notes/internal/notes"
	"github.com/kuitang/versioned-notes/internal/obs"
)

const (
	// ShortIDLength is the length of short URL identifiers
	ShortIDLength = 6

	// MaxCollisionRetries is the maximum number of retries on collision
	MaxCollisionRetries = 10

	// MsgNotFound is returned for unknown or malformed short ids.
	MsgNotFound = "Share not found"
)

// Charset for short IDs: [a-zA-Z0-9_-] = 64 characters
// Using URL-safe base64 characters for easy embedding in URLs
const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// Snapshot is an immutable copy of a note at one version.
// It outlives later edits and deletion of the note.
type Snapshot struct {
	ShortID   string    `json:"short_id"`
	NoteID    int64     `json:"note_id"`
	Content   string    `json:"content"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Service provides share operations.
type Service struct {
	db       *db.DB
	clock    notes.Clock
	generate func() (string, error)
}

// NewService creates a new share service. A nil clock uses wall time.
func NewService(database *db.DB, clock notes.Clock) *Service {
	if clock == nil {
		clock = systemClock{}
	}
	return &Service{db: database, clock: clock, generate: GenerateShortID}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// GenerateShortID generates a random 6-character short ID.
// Uses cryptographically secure random bytes for uniqueness.
func GenerateShortID() (string, error) {
	bytes := make([]byte, 8) // Use 8 bytes for easier bit manipulation
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	n := binary.BigEndian.Uint64(bytes)

	// Extract 6 bits at a time to index into charset
	result := make([]byte, ShortIDLength)
	for i := 0; i < ShortIDLength; i++ {
		result[i] = charset[n&0x3F]
		n >>= 6
	}

	return string(result), nil
}

// ValidateShortID checks if a short ID has the correct format.
func ValidateShortID(shortID string) bool {
	if len(shortID) != ShortIDLength {
		return false
	}
	for i := 0; i < len(shortID); i++ {
		if strings.IndexByte(charset, shortID[i]) < 0 {
			return false
		}
	}
	return true
}

// Create snapshots the note's current content and version.
// Sharing the same version twice returns the existing snapshot.
func (s *Service) Create(ctx context.Context, noteID int64) (*Snapshot, error) {
	var out db.Share
	err := s.db.WithTx(ctx, func(q *db.Queries) error {
		note, err := q.GetNote(ctx, noteID)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.New(errs.NotFound, notes.MsgNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read note: %w", err)
		}

		existing, err := q.GetShareByNoteVersion(ctx, note.ID, note.Version)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check existing share: %w", err)
		}

		// A failed INSERT only rolls back its own statement, so retrying inside the tx is safe.
		var lastErr error
		for i := 0; i < MaxCollisionRetries; i++ {
			shortID, err := s.generate()
			if err != nil {
				return err
			}
			params := db.CreateShareParams{
				ShortID:   shortID,
				NoteID:    note.ID,
				Content:   note.Content,
				Version:   note.Version,
				CreatedAt: s.clock.Now().UTC().UnixMicro(),
			}
			id, err := q.CreateShare(ctx, params)
			if err != nil {
				if isUniqueConstraintError(err) {
					lastErr = err
					continue
				}
				return fmt.Errorf("failed to create share: %w", err)
			}
			out = db.Share{
				ID:        id,
				ShortID:   params.ShortID,
				NoteID:    params.NoteID,
				Content:   params.Content,
				Version:   params.Version,
				CreatedAt: params.CreatedAt,
			}
			return nil
		}
		return fmt.Errorf("failed to create share after %d retries: %w", MaxCollisionRetries, lastErr)
	})
	if err != nil {
		return nil, err
	}

	obs.From(ctx).With("pkg", "share").Debug("share_created",
		"note_id", out.NoteID,
		"short_id", out.ShortID,
		"version", out.Version,
	)
	snap := fromRow(out)
	return &snap, nil
}

// Resolve returns the snapshot for a short id.
func (s *Service) Resolve(ctx context.Context, shortID string) (*Snapshot, error) {
	if !ValidateShortID(shortID) {
		return nil, errs.New(errs.NotFound, MsgNotFound)
	}

	row, err := s.db.Queries().GetShareByShortID(ctx, shortID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, MsgNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve share: %w", err)
	}
	snap := fromRow(row)
	return &snap, nil
}

func fromRow(row db.Share) Snapshot {
	return Snapshot{
		ShortID:   row.ShortID,
		NoteID:    row.NoteID,
		Content:   row.Content,
		Version:   row.Version,
		CreatedAt: time.UnixMicro(row.CreatedAt).UTC(),
	}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint")
}
