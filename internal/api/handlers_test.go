package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kuitang/versioned-notes/internal/db/testutil"
	"github.com/kuitang/versioned-notes/internal/notes"
	"github.com/kuitang/versioned-notes/internal/share"
	"github.com/kuitang/versioned-notes/internal/testdb"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type testEnv struct {
	mux   *http.ServeMux
	store *notes.Store
	clock *notes.FakeClock
}

func newTestEnv(t interface {
	Fatalf(format string, args ...interface{})
}) *testEnv {
	database := testdb.MustInMemory(t, "api")
	clock := notes.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := notes.NewStore(database, notes.WithClock(clock))
	h := NewHandler(store, share.NewService(database, clock), "https://notes.example.com/")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testEnv{mux: mux, store: store, clock: clock}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t require.TestingT, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func notePath(id int64) string {
	return "/api/notes/" + strconv.FormatInt(id, 10)
}

func version(v int64) *int64 { return &v }

func TestRootAndHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, MsgRunning, decode[MessageResponse](t, rec).Message)

	rec = env.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	require.Equal(t, "healthy", health.Status)
	require.False(t, health.Timestamp.IsZero())

	rec = env.do(http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateGetListDelete(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/notes", CreateNoteRequest{Content: "  hi  "})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	created := decode[notes.Note](t, rec)
	require.Equal(t, "hi", created.Content)
	require.EqualValues(t, 1, created.Version)
	require.Equal(t, created.CreatedAt, created.UpdatedAt)

	rec = env.do(http.MethodGet, notePath(created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, created, decode[notes.Note](t, rec))

	env.clock.Advance(time.Second)
	rec = env.do(http.MethodPost, "/api/notes", CreateNoteRequest{Content: "second"})
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[notes.Note](t, rec)

	rec = env.do(http.MethodGet, "/api/notes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]notes.Note](t, rec)
	require.Len(t, list, 2)
	require.Equal(t, second.ID, list[0].ID)
	require.Equal(t, created.ID, list[1].ID)

	rec = env.do(http.MethodDelete, notePath(created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, MsgDeleted, decode[MessageResponse](t, rec).Message)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec = env.do(method, notePath(created.ID), nil)
		require.Equal(t, http.StatusNotFound, rec.Code, method)
		require.Equal(t, notes.MsgNotFound, decode[ErrorResponse](t, rec).Error)
	}
}

func TestEmptyListIsArray(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/notes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestBadRequests(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	note, err := env.store.Create(t.Context(), "keep")
	require.NoError(t, err)

	cases := []struct {
		name    string
		method  string
		path    string
		body    any
		status  int
		message string
	}{
		{"create invalid json", http.MethodPost, "/api/notes", "{", http.StatusBadRequest, MsgInvalidJSON},
		{"create blank", http.MethodPost, "/api/notes", CreateNoteRequest{Content: " \n\t "}, http.StatusBadRequest, notes.MsgEmptyContent},
		{"update missing version", http.MethodPut, notePath(note.ID), map[string]string{"content": "x"}, http.StatusBadRequest, MsgVersionMissing},
		{"update version as string", http.MethodPut, notePath(note.ID), `{"content":"x","version":"1"}`, http.StatusBadRequest, MsgInvalidJSON},
		{"update blank", http.MethodPut, notePath(note.ID), UpdateNoteRequest{Content: "   ", Version: version(1)}, http.StatusBadRequest, notes.MsgEmptyContent},
		{"update unknown", http.MethodPut, notePath(note.ID + 100), UpdateNoteRequest{Content: "x", Version: version(1)}, http.StatusNotFound, notes.MsgNotFound},
		{"update unknown and blank", http.MethodPut, notePath(note.ID + 100), UpdateNoteRequest{Content: "", Version: version(1)}, http.StatusNotFound, notes.MsgNotFound},
		{"simple blank", http.MethodPut, notePath(note.ID) + "/simple", CreateNoteRequest{Content: ""}, http.StatusBadRequest, notes.MsgEmptyContent},
		{"simple unknown", http.MethodPut, notePath(note.ID+100) + "/simple", CreateNoteRequest{Content: "x"}, http.StatusNotFound, notes.MsgNotFound},
		{"non numeric id", http.MethodGet, "/api/notes/abc", nil, http.StatusNotFound, notes.MsgNotFound},
		{"zero id", http.MethodGet, "/api/notes/0", nil, http.StatusNotFound, notes.MsgNotFound},
		{"negative id", http.MethodDelete, "/api/notes/-1", nil, http.StatusNotFound, notes.MsgNotFound},
		{"share unknown", http.MethodPost, notePath(note.ID+100) + "/share", nil, http.StatusNotFound, notes.MsgNotFound},
		{"resolve unknown share", http.MethodGet, "/api/shares/AAAAAA", nil, http.StatusNotFound, share.MsgNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, tc.message, decode[ErrorResponse](t, rec).Error)
		})
	}

	got, err := env.store.Get(t.Context(), note.ID)
	require.NoError(t, err)
	require.Equal(t, "keep", got.Content)
	require.EqualValues(t, 1, got.Version)
}

func TestUpdate_ConflictReportsCurrentVersion(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	note, err := env.store.Create(t.Context(), "v1")
	require.NoError(t, err)

	rec := env.do(http.MethodPut, notePath(note.ID), UpdateNoteRequest{Content: "v2", Version: version(1)})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[notes.Note](t, rec)
	require.EqualValues(t, 2, updated.Version)
	require.Equal(t, "v2", updated.Content)

	rec = env.do(http.MethodPut, notePath(note.ID), UpdateNoteRequest{Content: "stale", Version: version(1)})
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[ConflictResponse](t, rec)
	require.Equal(t, notes.MsgVersionConflict, conflict.Error)
	require.EqualValues(t, 2, conflict.CurrentVersion)

	rec = env.do(http.MethodGet, notePath(note.ID), nil)
	require.Equal(t, "v2", decode[notes.Note](t, rec).Content)
}

func TestUpdateSimple_IgnoresVersion(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	note, err := env.store.Create(t.Context(), "v1")
	require.NoError(t, err)
	_, err = env.store.UpdateChecked(t.Context(), note.ID, "v2", 1)
	require.NoError(t, err)

	rec := env.do(http.MethodPut, notePath(note.ID)+"/simple", `{"content":"overwrite","version":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[notes.Note](t, rec)
	require.Equal(t, "overwrite", got.Content)
	require.EqualValues(t, 3, got.Version)
}

func TestConcurrentPutsSameVersion(t *testing.T) {
	t.Parallel()
	database := testdb.NewFile(t)
	store := notes.NewStore(database)
	h := NewHandler(store, share.NewService(database, nil), "")
	srv := httptest.NewServer(func() http.Handler {
		mux := http.NewServeMux()
		h.RegisterRoutes(mux)
		return mux
	}())
	defer srv.Close()

	note, err := store.Create(t.Context(), "original")
	require.NoError(t, err)

	const writers = 2
	statuses := make([]int, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, _ := json.Marshal(UpdateNoteRequest{Content: "writer " + strconv.Itoa(i), Version: version(1)})
			req, _ := http.NewRequest(http.MethodPut, srv.URL+notePath(note.ID), bytes.NewReader(raw))
			req.Header.Set("Content-Type", "application/json")
			resp, err := srv.Client().Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	winner := -1
	for i, status := range statuses {
		switch status {
		case http.StatusOK:
			ok++
			winner = i
		case http.StatusConflict:
			conflicts++
		}
	}
	require.Equal(t, 1, ok, "statuses %v", statuses)
	require.Equal(t, 1, conflicts, "statuses %v", statuses)

	got, err := store.Get(t.Context(), note.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, got.Version)
	require.Equal(t, "writer "+strconv.Itoa(winner), got.Content)
}

func TestShareFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	note, err := env.store.Create(t.Context(), "# Groceries\n\n- eggs\n\n<script>alert(1)</script>")
	require.NoError(t, err)

	rec := env.do(http.MethodPost, notePath(note.ID)+"/share", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	shared := decode[ShareResponse](t, rec)
	require.True(t, share.ValidateShortID(shared.ShortID), shared.ShortID)
	require.Equal(t, "https://notes.example.com/s/"+shared.ShortID, shared.URL)
	require.EqualValues(t, 1, shared.Version)

	_, err = env.store.UpdateChecked(t.Context(), note.ID, "changed later", 1)
	require.NoError(t, err)

	rec = env.do(http.MethodGet, "/api/shares/"+shared.ShortID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[share.Snapshot](t, rec)
	require.Equal(t, note.Content, snap.Content)
	require.EqualValues(t, 1, snap.Version)

	rec = env.do(http.MethodGet, "/s/"+shared.ShortID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	body := rec.Body.String()
	require.Contains(t, body, "<h1")
	require.Contains(t, body, "eggs")
	require.NotContains(t, body, "<script>alert(1)</script>")
	require.NotContains(t, body, "changed later")

	rec = env.do(http.MethodGet, "/s/AAAAAA", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Property: Over HTTP, a version token is accepted at most once
// =============================================================================

func testUpdate_VersionTokenSingleUse_Properties(t *rapid.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/notes", CreateNoteRequest{Content: testutil.Content().Draw(t, "content")})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var note notes.Note
	if err := json.Unmarshal(rec.Body.Bytes(), &note); err != nil {
		t.Fatalf("decode: %v", err)
	}

	edits := rapid.IntRange(1, 5).Draw(t, "edits")
	for i := 0; i < edits; i++ {
		env.clock.Advance(time.Duration(rapid.IntRange(0, 1000).Draw(t, "advanceMs")) * time.Millisecond)
		content := testutil.Content().Draw(t, "edit")

		rec = env.do(http.MethodPut, notePath(note.ID), UpdateNoteRequest{Content: content, Version: version(note.Version)})
		if rec.Code != http.StatusOK {
			t.Fatalf("update status %d: %s", rec.Code, rec.Body.String())
		}
		var updated notes.Note
		if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if updated.Version != note.Version+1 {
			t.Fatalf("version %d -> %d", note.Version, updated.Version)
		}
		if updated.Content != strings.TrimSpace(content) {
			t.Fatalf("content %q not trimmed from %q", updated.Content, content)
		}
		if updated.UpdatedAt.Before(note.UpdatedAt) || !updated.CreatedAt.Equal(note.CreatedAt) {
			t.Fatalf("timestamps regressed: before %+v after %+v", note, updated)
		}

		rec = env.do(http.MethodPut, notePath(note.ID), UpdateNoteRequest{Content: "replay", Version: version(note.Version)})
		if rec.Code != http.StatusConflict {
			t.Fatalf("replayed token status %d, want 409", rec.Code)
		}
		var conflict ConflictResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &conflict); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if conflict.CurrentVersion != updated.Version {
			t.Fatalf("current_version %d, want %d", conflict.CurrentVersion, updated.Version)
		}
		note = updated
	}
}

func TestUpdate_VersionTokenSingleUse_Properties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testUpdate_VersionTokenSingleUse_Properties)
}

func FuzzUpdate_VersionTokenSingleUse_Properties(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testUpdate_VersionTokenSingleUse_Properties))
}
