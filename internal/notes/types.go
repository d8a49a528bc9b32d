package notes

import (
	"fmt"
	"time"

	"github.com/kuitang/versioned-notes/internal/db"
)

// Client-facing messages, one per error kind.
const (
	MsgEmptyContent    = "Note content cannot be empty"
	MsgNotFound        = "Note not found"
	MsgVersionConflict = "Note has been modified by someone else. Please refresh and try again."
)

// Note is a copy of a stored note. Mutating it does not touch the store.
type Note struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// VersionConflictError is the cause of a FailedPrecondition error from UpdateChecked.
// CurrentVersion lets the caller resync without another read.
type VersionConflictError struct {
	NoteID          int64
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("note %d: expected version %d, current version %d", e.NoteID, e.ExpectedVersion, e.CurrentVersion)
}

func fromRow(row db.Note) Note {
	return Note{
		ID:        row.ID,
		Content:   row.Content,
		CreatedAt: time.UnixMicro(row.CreatedAt).UTC(),
		UpdatedAt: time.UnixMicro(row.UpdatedAt).UTC(),
		Version:   row.Version,
	}
}
