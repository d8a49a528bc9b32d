// Package backup writes point-in-time JSON snapshots of every note to object storage.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kuitang/versioned-notes/internal/notes"
	"github.com/kuitang/versioned-notes/internal/obs"
)

// Prefix is the object key prefix for all backups.
const Prefix = "backups/"

// timestampLayout sorts lexically in time order.
const timestampLayout = "20060102T150405Z"

// ObjectStore is the subset of s3client.Client that backups need.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// NoteLister is satisfied by *notes.Store.
type NoteLister interface {
	List(ctx context.Context) ([]notes.Note, error)
}

// Snapshot is the stored backup document.
type Snapshot struct {
	CreatedAt time.Time    `json:"created_at"`
	Count     int          `json:"count"`
	Notes     []notes.Note `json:"notes"`
}

// Service creates and reads backups.
type Service struct {
	notes   NoteLister
	objects ObjectStore
	now     func() time.Time
	newID   func() string
}

// NewService creates a backup service.
func NewService(lister NoteLister, objects ObjectStore) *Service {
	return &Service{
		notes:   lister,
		objects: objects,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Run writes one backup and returns its key.
func (s *Service) Run(ctx context.Context) (string, error) {
	items, err := s.notes.List(ctx)
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}

	now := s.now().UTC()
	payload, err := json.Marshal(Snapshot{CreatedAt: now, Count: len(items), Notes: items})
	if err != nil {
		return "", fmt.Errorf("backup: failed to encode snapshot: %w", err)
	}

	key := fmt.Sprintf("%s%s-%s.json", Prefix, now.Format(timestampLayout), s.newID())
	if err := s.objects.PutObject(ctx, key, payload, "application/json"); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}

	obs.From(ctx).With("pkg", "backup").Info("backup_written",
		"key", key,
		"count", len(items),
		"bytes", len(payload),
	)
	return key, nil
}

// Restore reads the backup stored under key.
func (s *Service) Restore(ctx context.Context, key string) (*Snapshot, error) {
	if !strings.HasPrefix(key, Prefix) {
		return nil, fmt.Errorf("backup: key %q is outside %s", key, Prefix)
	}
	data, err := s.objects.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("backup: failed to decode %q: %w", key, err)
	}
	if snap.Count != len(snap.Notes) {
		return nil, fmt.Errorf("backup: %q declares %d notes but holds %d", key, snap.Count, len(snap.Notes))
	}
	return &snap, nil
}

// Latest returns the key of the newest backup, or "" when there is none.
func (s *Service) Latest(ctx context.Context) (string, error) {
	keys, err := s.objects.ListKeys(ctx, Prefix)
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	if len(keys) == 0 {
		return "", nil
	}
	return keys[len(keys)-1], nil
}

// RunEvery writes a backup each interval until ctx is done. Failures are
// logged and the loop keeps going.
func (s *Service) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
				obs.From(ctx).With("pkg", "backup").Error("backup_failed", "error", err)
			}
		}
	}
}
