package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

const (
	ToolNoteList   = "note_list"
	ToolNoteView   = "note_view"
	ToolNoteCreate = "note_create"
	ToolNoteUpdate = "note_update"
	ToolNoteDelete = "note_delete"
)

// ToolDefinitions returns the note tool definitions. There is no unchecked
// update tool: agents always go through the version check.
func ToolDefinitions() []*mcp.Tool {
	idProperty := map[string]any{
		"type":        "integer",
		"minimum":     1,
		"description": "The note id",
	}

	return []*mcp.Tool{
		{
			Name:        ToolNoteList,
			Description: "Notes tool. List every note, newest first. Each entry has id, content, created_at, updated_at and version. Use the version from this list or from note_view when calling note_update.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolNoteView,
			Description: "Notes tool. Read one note by id. The response includes version, which note_update requires.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": idProperty,
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        ToolNoteCreate,
			Description: "Notes tool. Create a note. Content is trimmed and must not be blank. The new note starts at version 1.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{
						"type":        "string",
						"description": "The note text",
					},
				},
				"required": []string{"content"},
			},
		},
		{
			Name:        ToolNoteUpdate,
			Description: "Notes tool. Replace a note's content. version is REQUIRED: pass the version you last read. If someone changed the note since, the update fails with a conflict that reports current_version; call note_view, merge, and retry with the new version. On success the version goes up by one.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": idProperty,
					"content": map[string]any{
						"type":        "string",
						"description": "The full replacement text",
					},
					"version": map[string]any{
						"type":        "integer",
						"description": "The version the update is based on",
					},
				},
				"required": []string{"id", "content", "version"},
			},
		},
		{
			Name:        ToolNoteDelete,
			Description: "Notes tool. Permanently delete a note by id.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": idProperty,
				},
				"required": []string{"id"},
			},
		},
	}
}
