package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/kuitang/versioned-notes/internal/errs"
	"github.com/kuitang/versioned-notes/internal/obs"
)

// DefaultRetryAfterSeconds is the default value for the Retry-After header
// when a rate limit is exceeded.
const DefaultRetryAfterSeconds = 1

// ClientIP keys requests by the remote host, without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware creates HTTP middleware that enforces rate limits.
// getClientID maps a request to its bucket; an empty id skips limiting.
//
// Rejections are 429 with a JSON error body, Retry-After, and X-RateLimit-Remaining: 0.
func RateLimitMiddleware(limiter *RateLimiter, getClientID func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := getClientID(r)
			if clientID == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(clientID) {
				obs.From(r.Context()).With("pkg", "ratelimit").Info("rate_limited",
					"client", clientID,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(errs.HTTPStatus(errs.ResourceExhausted))
				w.Write([]byte(`{"error":"Too many requests"}`))
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(clientID)))
			next.ServeHTTP(w, r)
		})
	}
}
