package share

import (
	"context"
	"testing"
	"time"

	"github.com/kuitang/versioned-notes/internal/db/testutil"
	"github.com/kuitang/versioned-notes/internal/errs"
	"github.com/kuitang/versioned-notes/internal/notes"
	"github.com/kuitang/versioned-notes/internal/testdb"
	"pgregory.net/rapid"
)

func setup(t interface {
	Fatalf(format string, args ...interface{})
}) (*notes.Store, *Service) {
	database := testdb.MustInMemory(t, "share")
	clock := notes.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return notes.NewStore(database, notes.WithClock(clock)), NewService(database, clock)
}

// =============================================================================
// Property: Generated short IDs are always valid
// =============================================================================

func testGenerateShortID_Valid_Properties(t *rapid.T) {
	_ = rapid.Int().Draw(t, "iteration")
	id, err := GenerateShortID()
	if err != nil {
		t.Fatalf("GenerateShortID failed: %v", err)
	}
	if !ValidateShortID(id) {
		t.Fatalf("generated id %q does not validate", id)
	}
}

func TestGenerateShortID_Valid_Properties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testGenerateShortID_Valid_Properties)
}

// =============================================================================
// Property: Validation rejects wrong lengths and foreign characters
// =============================================================================

func testValidateShortID_Properties(t *rapid.T) {
	valid := rapid.StringMatching(`[A-Za-z0-9_-]{6}`).Draw(t, "valid")
	if !ValidateShortID(valid) {
		t.Fatalf("expected %q to validate", valid)
	}

	wrongLen := rapid.StringMatching(`[A-Za-z0-9_-]{0,5}|[A-Za-z0-9_-]{7,12}`).Draw(t, "wrongLen")
	if ValidateShortID(wrongLen) {
		t.Fatalf("expected %q (len %d) to be rejected", wrongLen, len(wrongLen))
	}

	pos := rapid.IntRange(0, ShortIDLength-1).Draw(t, "pos")
	bad := rapid.SampledFrom([]string{"/", ".", " ", "%", "~"}).Draw(t, "bad")
	tampered := valid[:pos] + bad + valid[pos+1:]
	if ValidateShortID(tampered) {
		t.Fatalf("expected %q to be rejected", tampered)
	}
}

func TestValidateShortID_Properties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidateShortID_Properties)
}

func FuzzValidateShortID_Properties(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testValidateShortID_Properties))
}

// =============================================================================
// Property: A share is a frozen snapshot that survives edits and deletion
// =============================================================================

func testShare_Snapshot_Properties(t *rapid.T) {
	store, svc := setup(t)
	ctx := context.Background()

	note, err := store.Create(ctx, testutil.Content().Draw(t, "content"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	snap, err := svc.Create(ctx, note.ID)
	if err != nil {
		t.Fatalf("share Create failed: %v", err)
	}
	if snap.Content != note.Content || snap.Version != note.Version || snap.NoteID != note.ID {
		t.Fatalf("snapshot does not match note:\nnote %+v\nsnap %+v", note, snap)
	}

	again, err := svc.Create(ctx, note.ID)
	if err != nil {
		t.Fatalf("second share Create failed: %v", err)
	}
	if again.ShortID != snap.ShortID {
		t.Fatalf("same version shared twice got %q and %q", snap.ShortID, again.ShortID)
	}

	if _, err := store.UpdateChecked(ctx, note.ID, testutil.Content().Draw(t, "edit"), note.Version); err != nil {
		t.Fatalf("UpdateChecked failed: %v", err)
	}
	newer, err := svc.Create(ctx, note.ID)
	if err != nil {
		t.Fatalf("share after edit failed: %v", err)
	}
	if newer.ShortID == snap.ShortID || newer.Version != note.Version+1 {
		t.Fatalf("edit did not produce a new snapshot: %+v", newer)
	}

	if rapid.Bool().Draw(t, "deleteNote") {
		if err := store.Delete(ctx, note.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
	}

	resolved, err := svc.Resolve(ctx, snap.ShortID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Content != snap.Content || resolved.Version != snap.Version {
		t.Fatalf("snapshot changed:\nbefore %+v\nafter  %+v", snap, resolved)
	}
}

func TestShare_Snapshot_Properties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testShare_Snapshot_Properties)
}

func FuzzShare_Snapshot_Properties(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testShare_Snapshot_Properties))
}

func TestShare_UnknownNote(t *testing.T) {
	t.Parallel()
	_, svc := setup(t)

	_, err := svc.Create(context.Background(), 42)
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResolve_UnknownOrMalformed(t *testing.T) {
	t.Parallel()
	_, svc := setup(t)
	ctx := context.Background()

	for _, id := range []string{"", "abc", "AAAAAA", "../../x", "abcdefg"} {
		_, err := svc.Resolve(ctx, id)
		if !errs.Is(err, errs.NotFound) {
			t.Fatalf("Resolve(%q): expected NotFound, got %v", id, err)
		}
	}
}

func TestShare_CollisionRetry(t *testing.T) {
	t.Parallel()
	store, svc := setup(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "first")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := store.Create(ctx, "second")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ids := []string{"AAAAAA", "AAAAAA", "AAAAAA", "BBBBBB"}
	svc.generate = func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	a, err := svc.Create(ctx, first.ID)
	if err != nil {
		t.Fatalf("share first failed: %v", err)
	}
	b, err := svc.Create(ctx, second.ID)
	if err != nil {
		t.Fatalf("share second failed: %v", err)
	}
	if a.ShortID != "AAAAAA" || b.ShortID != "BBBBBB" {
		t.Fatalf("unexpected ids %q, %q", a.ShortID, b.ShortID)
	}
	if len(ids) != 0 {
		t.Fatalf("expected all generated ids consumed, %d left", len(ids))
	}
}

func TestShare_CollisionsExhausted(t *testing.T) {
	t.Parallel()
	store, svc := setup(t)
	ctx := context.Background()

	svc.generate = func() (string, error) { return "ZZZZZZ", nil }

	first, _ := store.Create(ctx, "first")
	second, _ := store.Create(ctx, "second")
	if _, err := svc.Create(ctx, first.ID); err != nil {
		t.Fatalf("share first failed: %v", err)
	}
	_, err := svc.Create(ctx, second.ID)
	if err == nil {
		t.Fatal("expected exhausted retries to fail")
	}
	if errs.CodeOf(err) != errs.Internal {
		t.Fatalf("expected internal error, got %s", errs.CodeOf(err))
	}
}
