// Package urlutil builds absolute links for responses.
package urlutil

import (
	"net/http"
	"strings"
)

// Origin returns configured when it is set. Otherwise it reconstructs
// scheme://host from the request, honoring X-Forwarded-Proto from a proxy.
// The result never ends in a slash.
func Origin(r *http.Request, configured string) string {
	if base := trimBase(configured); base != "" {
		return base
	}
	if r == nil {
		return ""
	}
	host := strings.TrimSpace(r.Host)
	if host == "" || strings.ContainsAny(host, "/ \\") {
		return ""
	}
	return scheme(r) + "://" + host
}

// Join appends path to base. Absolute http(s) paths are returned unchanged.
func Join(base, path string) string {
	base = trimBase(base)
	switch {
	case path == "":
		return base
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return path
	case strings.HasPrefix(path, "/"):
		return base + path
	default:
		return base + "/" + path
	}
}

func scheme(r *http.Request) string {
	// First hop only when proxies append.
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	switch proto = strings.ToLower(strings.TrimSpace(proto)); proto {
	case "http", "https":
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func trimBase(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}
