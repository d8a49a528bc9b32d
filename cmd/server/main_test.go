package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kuitang/versioned-notes/internal/backup"
	"github.com/kuitang/versioned-notes/internal/config"
	"github.com/kuitang/versioned-notes/internal/notes"
	"github.com/kuitang/versioned-notes/internal/ratelimit"
	"github.com/kuitang/versioned-notes/internal/s3client"
	"github.com/kuitang/versioned-notes/internal/share"
	"github.com/kuitang/versioned-notes/internal/testdb"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, burst int) http.Handler {
	t.Helper()
	database := testdb.MustInMemory(t, "server")
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{RPS: 0.001, Burst: burst, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)
	a := &app{
		store:   notes.NewStore(database),
		shares:  share.NewService(database, nil),
		limiter: limiter,
		cfg: &config.Config{
			BaseURL:            "http://localhost:8000",
			CORSAllowedOrigins: []string{"http://localhost:3000"},
		},
	}
	return a.routes()
}

func TestMountMCPRoute_RegistersStreamableMethods(t *testing.T) {
	mux := http.NewServeMux()
	callCount := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusNoContent)
	})

	mountMCPRoute(mux, "/mcp", handler)

	methods := []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	for _, method := range methods {
		req := httptest.NewRequest(method, "/mcp", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected %s /mcp to reach handler with 204, got %d", method, rec.Code)
		}
	}

	if callCount != len(methods) {
		t.Fatalf("expected handler call count %d, got %d", len(methods), callCount)
	}
}

func TestRoutes_EndToEnd(t *testing.T) {
	t.Parallel()
	handler := newTestApp(t, 100)

	req := httptest.NewRequest(http.MethodPost, "/api/notes", strings.NewReader(`{"content":"hello"}`))
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("X-Request-Id", "req-e2e")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "req-e2e", rec.Header().Get("X-Request-Id"))
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notes/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"version":1`)

	mcpReq := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	mcpReq.Header.Set("Content-Type", "application/json")
	mcpReq.Header.Set("Accept", "application/json, text/event-stream")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, mcpReq)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "note_update")
}

func TestRoutes_RateLimitExemptsHealth(t *testing.T) {
	t.Parallel()
	handler := newTestApp(t, 2)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notes", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notes", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	for i := 0; i < 5; i++ {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitKey(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	require.Equal(t, "203.0.113.7", rateLimitKey(req))

	require.Empty(t, rateLimitKey(httptest.NewRequest(http.MethodGet, "/health", nil)))
	require.Empty(t, rateLimitKey(httptest.NewRequest(http.MethodOptions, "/api/notes", nil)))
}

func TestDescribeLatest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := notes.NewStore(testdb.MustInMemory(t, "server_backup"))
	svc := backup.NewService(store, s3client.TestClient(t, "notes-backups"))

	var out bytes.Buffer
	require.NoError(t, describeLatest(ctx, &out, svc))
	require.Equal(t, "no backups\n", out.String())

	_, err := store.Create(ctx, "one")
	require.NoError(t, err)
	key, err := svc.Run(ctx)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, describeLatest(ctx, &out, svc))
	require.True(t, strings.HasPrefix(out.String(), key+"\n"), out.String())
	require.Contains(t, out.String(), "notes=1")
}

func TestCheckBackupTarget(t *testing.T) {
	t.Parallel()
	require.ErrorIs(t, checkBackupTarget(&config.Config{}), errBackupsDisabled)
	require.ErrorIs(t, checkBackupTarget(&config.Config{NoS3: true}), errEphemeralBackups)
	require.ErrorIs(t, checkBackupTarget(&config.Config{NoS3: true, AWSBucketName: "notes"}), errEphemeralBackups)
	require.NoError(t, checkBackupTarget(&config.Config{AWSBucketName: "notes"}))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	require.Equal(t, "notes-server version dev\n", out.String())
}
