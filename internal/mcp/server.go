// Package mcp exposes the note store to agents as MCP tools over the
// Streamable HTTP transport.
package mcp

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/kuitang/versioned-notes/internal/notes"
	"github.com/kuitang/versioned-notes/internal/obs"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// ServerName and ServerVersion are reported in the MCP initialize handshake.
	ServerName    = "versioned-notes"
	ServerVersion = "1.0.0"

	mcpDebugBodyLogLimitBytes = 8 * 1024
)

// Server wraps the MCP server with notes handling
type Server struct {
	mcpServer   *mcp.Server
	handler     *Handler
	httpHandler http.Handler
}

// NewServer creates a new MCP server with the note tools mounted.
func NewServer(store *notes.Store) *Server {
	handler := NewHandler(store)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)

	for _, tool := range ToolDefinitions() {
		mcp.AddTool(mcpServer, tool, handler.createToolHandler(tool.Name))
	}

	httpHandler := mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			// Plain application/json responses; no SSE stream needed for request/response tools.
			JSONResponse: true,
			// No session state is kept between requests, so initialize is optional.
			Stateless: true,
		},
	)

	return &Server{
		mcpServer:   mcpServer,
		handler:     handler,
		httpHandler: httpHandler,
	}
}

// ServeHTTP implements http.Handler for the Streamable HTTP transport.
// A panic in the delegate or a delegate that writes nothing becomes a 500.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := obs.From(r.Context()).With("pkg", "mcp")
	debug := logger.Enabled(r.Context(), slog.LevelDebug)

	if debug && r.Body != nil && r.Method == http.MethodPost {
		reqBody, err := io.ReadAll(io.LimitReader(r.Body, 4*mcpDebugBodyLogLimitBytes+1))
		if err != nil {
			logger.Error("mcp_body_read_failed", "error", err)
		}
		// Replay what was read, followed by anything past the limit.
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(reqBody), r.Body), r.Body}
		logger.Debug("mcp_request",
			"method", r.Method,
			"content_type", r.Header.Get("Content-Type"),
			"accept", r.Header.Get("Accept"),
			"body", formatBodyForLog(reqBody),
		)
	}

	recorder := obs.NewStatusRecorder(w)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("mcp_handler_panic", "panic", rec)
			if !recorder.Written() {
				http.Error(recorder, "Internal server error", http.StatusInternalServerError)
			}
			return
		}
		if !recorder.Written() {
			logger.Error("mcp_handler_no_response", "method", r.Method)
			http.Error(recorder, "MCP handler returned without writing response", http.StatusInternalServerError)
			return
		}
		if recorder.Status() >= http.StatusBadRequest {
			logger.Warn("mcp_request_failed",
				"method", r.Method,
				"status", recorder.Status(),
			)
		}
	}()

	s.httpHandler.ServeHTTP(recorder, r)
}

func formatBodyForLog(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if len(b) > mcpDebugBodyLogLimitBytes {
		return string(b[:mcpDebugBodyLogLimitBytes]) + " [truncated]"
	}
	return string(b)
}
