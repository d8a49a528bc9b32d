package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kuitang/versioned-notes/internal/errs"
	"github.com/kuitang/versioned-notes/internal/notes"
	"github.com/kuitang/versioned-notes/internal/obs"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler implements MCP tool call handling.
type Handler struct {
	store *notes.Store
}

// NewHandler creates a new MCP handler over the note store.
func NewHandler(store *notes.Store) *Handler {
	return &Handler{store: store}
}

// toolErrorPayload is the JSON body of an IsError result.
type toolErrorPayload struct {
	Code           errs.Code `json:"code"`
	Message        string    `json:"message"`
	CurrentVersion *int64    `json:"current_version,omitempty"`
}

type noteIDArgs struct {
	ID int64 `json:"id"`
}

type noteCreateArgs struct {
	Content string `json:"content"`
}

type noteUpdateArgs struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Version *int64 `json:"version"`
}

// deleteResult is returned by note_delete.
type deleteResult struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

// createToolHandler returns a tool handler function for the given tool name.
func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(ctx, name, args)
		return result, nil, err
	}
}

// HandleToolCall routes tool calls to appropriate handlers.
func (h *Handler) HandleToolCall(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	switch name {
	case ToolNoteList:
		return h.handleNoteList(ctx)
	case ToolNoteView:
		return h.handleNoteView(ctx, arguments)
	case ToolNoteCreate:
		return h.handleNoteCreate(ctx, arguments)
	case ToolNoteUpdate:
		return h.handleNoteUpdate(ctx, arguments)
	case ToolNoteDelete:
		return h.handleNoteDelete(ctx, arguments)
	default:
		return newToolResultError(ctx, name, errs.Newf(errs.InvalidArgument, "unknown tool: %s", name)), nil
	}
}

// decodeToolArgs maps loosely typed arguments onto dst, rejecting unknown fields.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "arguments are not valid JSON", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, fmt.Sprintf("invalid arguments: %v", err), err)
	}
	return nil
}

// newToolResultText creates a successful tool result with text content.
func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// newToolResultError turns an error into an IsError result with a JSON payload.
// Internal errors are logged and reported without detail.
func newToolResultError(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	payload := toolErrorPayload{
		Code:    errs.CodeOf(err),
		Message: errs.MessageOf(err),
	}
	var conflict *notes.VersionConflictError
	if errors.As(err, &conflict) {
		current := conflict.CurrentVersion
		payload.CurrentVersion = &current
	}
	if payload.Code == errs.Internal {
		obs.From(ctx).With("pkg", "mcp").Error("tool_failed", "tool", tool, "error", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalToolJSON(payload)},
		},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"code":"internal","message":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}

func (h *Handler) handleNoteList(ctx context.Context) (*mcp.CallToolResult, error) {
	items, err := h.store.List(ctx)
	if err != nil {
		return newToolResultError(ctx, ToolNoteList, err), nil
	}
	return newToolResultText(marshalToolJSON(items)), nil
}

func (h *Handler) handleNoteView(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in noteIDArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return newToolResultError(ctx, ToolNoteView, err), nil
	}

	note, err := h.store.Get(ctx, in.ID)
	if err != nil {
		return newToolResultError(ctx, ToolNoteView, err), nil
	}
	return newToolResultText(marshalToolJSON(note)), nil
}

func (h *Handler) handleNoteCreate(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in noteCreateArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return newToolResultError(ctx, ToolNoteCreate, err), nil
	}

	note, err := h.store.Create(ctx, in.Content)
	if err != nil {
		return newToolResultError(ctx, ToolNoteCreate, err), nil
	}
	return newToolResultText(marshalToolJSON(note)), nil
}

func (h *Handler) handleNoteUpdate(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in noteUpdateArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return newToolResultError(ctx, ToolNoteUpdate, err), nil
	}
	if in.Version == nil {
		return newToolResultError(ctx, ToolNoteUpdate, errs.New(errs.InvalidArgument, "version is required: call note_view first and pass its version")), nil
	}

	note, err := h.store.UpdateChecked(ctx, in.ID, in.Content, *in.Version)
	if err != nil {
		return newToolResultError(ctx, ToolNoteUpdate, err), nil
	}
	return newToolResultText(marshalToolJSON(note)), nil
}

func (h *Handler) handleNoteDelete(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in noteIDArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return newToolResultError(ctx, ToolNoteDelete, err), nil
	}

	if err := h.store.Delete(ctx, in.ID); err != nil {
		return newToolResultError(ctx, ToolNoteDelete, err), nil
	}
	return newToolResultText(marshalToolJSON(deleteResult{ID: in.ID, Deleted: true})), nil
}
