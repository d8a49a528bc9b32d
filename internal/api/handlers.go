// Package api is the HTTP/JSON surface over the note store and shares.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kuitang/versioned-notes/internal/errs"
	"github.com/kuitang/versioned-notes/internal/notes"
	"github.com/kuitang/versioned-notes/internal/obs"
	"github.com/kuitang/versioned-notes/internal/render"
	"github.com/kuitang/versioned-notes/internal/share"
	"github.com/kuitang/versioned-notes/internal/urlutil"
)

const (
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes = 1 << 20

	MsgRunning        = "Notes API is running!"
	MsgDeleted        = "Note deleted successfully"
	MsgInvalidJSON    = "Invalid JSON"
	MsgVersionMissing = "version is required"
)

// Handler wraps the note store and share service and provides HTTP handlers
type Handler struct {
	store   *notes.Store
	shares  *share.Service
	baseURL string
	now     func() time.Time
}

// NewHandler creates a new API handler. baseURL prefixes share links; when it
// is empty the origin of each request is used.
func NewHandler(store *notes.Store, shares *share.Service, baseURL string) *Handler {
	return &Handler{
		store:   store,
		shares:  shares,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// RegisterRoutes registers all notes API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /api/notes", h.ListNotes)
	mux.HandleFunc("POST /api/notes", h.CreateNote)
	mux.HandleFunc("GET /api/notes/{id}", h.GetNote)
	mux.HandleFunc("PUT /api/notes/{id}", h.UpdateNote)
	mux.HandleFunc("PUT /api/notes/{id}/simple", h.UpdateNoteSimple)
	mux.HandleFunc("DELETE /api/notes/{id}", h.DeleteNote)

	mux.HandleFunc("POST /api/notes/{id}/share", h.ShareNote)
	mux.HandleFunc("GET /api/shares/{shortID}", h.GetShare)
	mux.HandleFunc("GET /s/{shortID}", h.SharePage)
}

// MessageResponse is a plain acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateNoteRequest is the body of POST /api/notes and PUT /api/notes/{id}/simple.
type CreateNoteRequest struct {
	Content string `json:"content"`
}

// UpdateNoteRequest is the body of PUT /api/notes/{id}. Version is the one the
// client last read; a pointer so that an absent version is distinguishable from 0.
type UpdateNoteRequest struct {
	Content string `json:"content"`
	Version *int64 `json:"version"`
}

// ConflictResponse is the 409 body. CurrentVersion lets the client resync.
type ConflictResponse struct {
	Error          string `json:"error"`
	CurrentVersion int64  `json:"current_version"`
}

// ShareResponse is returned by POST /api/notes/{id}/share.
type ShareResponse struct {
	ShortID string `json:"short_id"`
	URL     string `json:"url"`
	Version int64  `json:"version"`
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: MsgRunning})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: h.now().UTC()})
}

// ListNotes handles GET /api/notes - every note, newest first
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GetNote handles GET /api/notes/{id}
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNoteID(w, r)
	if !ok {
		return
	}

	note, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	note, err := h.store.Create(r.Context(), req.Content)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/notes/{id} - the version-checked update
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNoteID(w, r)
	if !ok {
		return
	}

	var req UpdateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Version == nil {
		writeError(w, http.StatusBadRequest, MsgVersionMissing)
		return
	}

	note, err := h.store.UpdateChecked(r.Context(), id, req.Content, *req.Version)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// UpdateNoteSimple handles PUT /api/notes/{id}/simple. It overwrites without a
// version check and can lose concurrent edits.
func (h *Handler) UpdateNoteSimple(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNoteID(w, r)
	if !ok {
		return
	}

	var req CreateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	note, err := h.store.UpdateUncheckedUnsafe(r.Context(), id, req.Content)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/{id}
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNoteID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: MsgDeleted})
}

// ShareNote handles POST /api/notes/{id}/share
func (h *Handler) ShareNote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNoteID(w, r)
	if !ok {
		return
	}

	snap, err := h.shares.Create(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ShareResponse{
		ShortID: snap.ShortID,
		URL:     h.shareURL(r, snap.ShortID),
		Version: snap.Version,
	})
}

// GetShare handles GET /api/shares/{shortID}
func (h *Handler) GetShare(w http.ResponseWriter, r *http.Request) {
	snap, err := h.shares.Resolve(r.Context(), r.PathValue("shortID"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SharePage handles GET /s/{shortID} - the snapshot rendered as an HTML page
func (h *Handler) SharePage(w http.ResponseWriter, r *http.Request) {
	snap, err := h.shares.Resolve(r.Context(), r.PathValue("shortID"))
	if err != nil {
		status := errs.HTTPStatus(errs.CodeOf(err))
		if status >= http.StatusInternalServerError {
			obs.From(r.Context()).With("pkg", "api").Error("share_page_failed", "error", err)
		}
		http.Error(w, errs.MessageOf(err), status)
		return
	}

	page, err := render.RenderPage(render.Page{
		CanonicalURL: h.shareURL(r, snap.ShortID),
		Version:      snap.Version,
		Markdown:     snap.Content,
	})
	if err != nil {
		obs.From(r.Context()).With("pkg", "api").Error("share_page_render_failed", "short_id", snap.ShortID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}

func (h *Handler) shareURL(r *http.Request, shortID string) string {
	return urlutil.Join(urlutil.Origin(r, h.baseURL), "/s/"+shortID)
}

// parseNoteID treats anything that is not a positive integer as an unknown note.
func parseNoteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, notes.MsgNotFound)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, MsgInvalidJSON)
		return false
	}
	return true
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeStoreError maps a coded error to its status and fixed message.
// Uncoded errors are logged and reported as 500 without detail.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)

	var conflict *notes.VersionConflictError
	if code == errs.FailedPrecondition && errors.As(err, &conflict) {
		writeJSON(w, status, ConflictResponse{
			Error:          errs.MessageOf(err),
			CurrentVersion: conflict.CurrentVersion,
		})
		return
	}

	if status >= http.StatusInternalServerError {
		obs.From(r.Context()).With("pkg", "api").Error("request_failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, errs.MessageOf(err))
}
