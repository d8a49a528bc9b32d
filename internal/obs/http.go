package obs

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// StatusRecorder remembers the status and size of a response.
// Status is 0 until the handler writes something.
type StatusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

// NewStatusRecorder wraps w.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w}
}

func (r *StatusRecorder) WriteHeader(code int) {
	if r.status != 0 {
		return
	}
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

// Flush is a no-op when the underlying writer cannot flush.
func (r *StatusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *StatusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Written reports whether the handler produced a status line.
func (r *StatusRecorder) Written() bool { return r.status != 0 }

// Status returns the response status, 200 if nothing was written.
func (r *StatusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Outcome names for http_access events.
const (
	OutcomeOK          = "ok"
	OutcomeClientError = "client_error"
	OutcomeConflict    = "version_conflict"
	OutcomeRateLimited = "rate_limited"
	OutcomeServerError = "server_error"
)

// Outcome classifies a status code. Lost-update rejections and throttling get
// their own names since they are expected traffic, not bugs.
func Outcome(status int) (string, slog.Level) {
	switch {
	case status >= 500:
		return OutcomeServerError, slog.LevelError
	case status == http.StatusTooManyRequests:
		return OutcomeRateLimited, slog.LevelWarn
	case status == http.StatusConflict:
		return OutcomeConflict, slog.LevelInfo
	case status >= 400:
		return OutcomeClientError, slog.LevelDebug
	default:
		return OutcomeOK, slog.LevelDebug
	}
}

// RequestContextMiddleware tags the request context with a request id taken from
// X-Request-Id, then the W3C traceparent, then a fresh random id.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := traceIDFromParent(r.Header.Get("traceparent"))
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = traceID
		}
		if requestID == "" {
			requestID = newRequestID()
		}
		w.Header().Set("X-Request-Id", requestID)

		ctx := WithCorrelation(r.Context(), Correlation{RequestID: requestID, TraceID: traceID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLogMiddleware emits one http_access event per request. The route and
// note id are read after the mux has matched, so it must wrap the mux.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		status := rec.Status()
		outcome, level := Outcome(status)
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"outcome", outcome,
			"dur_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"resp_bytes", rec.bytes,
		}
		if r.Pattern != "" {
			attrs = append(attrs, "route", r.Pattern)
		}
		if id := r.PathValue("id"); id != "" {
			attrs = append(attrs, "note_id", id)
		}
		From(r.Context()).With("pkg", pkg).Log(r.Context(), level, "http_access", attrs...)
	})
}

// traceIDFromParent returns the trace id of a version-00 traceparent header,
// or "" when the header is absent or malformed.
func traceIDFromParent(header string) string {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) != 4 || len(parts[1]) != 32 {
		return ""
	}
	id := strings.ToLower(parts[1])
	if strings.Trim(id, "0") == "" || strings.Trim(id, "0123456789abcdef") != "" {
		return ""
	}
	return id
}
