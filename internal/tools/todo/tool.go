package todo

import (
	"context"
	"encoding/json"
)

// Tool exposes the todo service to the LLM.
type Tool struct {
	service *Service
}

// NewTool creates the todo tool rooted at the given workspace.
func NewTool(workspace string) *Tool {
	return &Tool{service: NewService(workspace)}
}

func (t *Tool) Name() string { return "todo" }

func (t *Tool) Description() string {
	return "Manage TODO tasks in memory/todo.md. " +
		"Supports init, CRUD, bulk actions, filtering, archive, stats, and daily review."
}

func (t *Tool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["init", "add", "list", "update", "bulk_update", "move", "done",
					"remove", "bulk_remove", "archive", "reorder", "stats", "review_daily"],
				"description": "TODO action to perform"
			},
			"id": {"type": "string", "description": "Single task id, e.g. T0001"},
			"ids": {"type": "array", "items": {"type": "string"}, "description": "Task ids"},
			"title": {"type": "string", "description": "Task title"},
			"note": {"type": "string", "description": "Task note"},
			"status": {
				"type": "string",
				"enum": ["todo", "doing", "blocked", "done", "archived"],
				"description": "Task status"
			},
			"priority": {
				"type": "integer",
				"minimum": 1,
				"maximum": 4,
				"description": "Task priority, 1 is highest"
			},
			"due": {"type": "string", "description": "ISO date or datetime"},
			"tags": {"type": "array", "items": {"type": "string"}, "description": "Task tags"},
			"depends_on": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Dependency ids"
			},
			"filters": {
				"type": "object",
				"description": "Filter options for list/archive: statuses, tags_any, tags_all, keyword, priority_min, priority_max, due_before, due_after, overdue, include_archived"
			},
			"patch": {
				"type": "object",
				"description": "Update fields for update/bulk_update: title, note, status, priority, due, tags, depends_on"
			},
			"sort_by": {
				"type": "string",
				"enum": ["priority", "due", "created", "updated"],
				"description": "Sort strategy for list/reorder"
			},
			"sort_order": {"type": "string", "enum": ["asc", "desc"], "description": "Sort order"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 1000, "description": "Max results"}
		},
		"required": ["action"]
	}`)
}

func (t *Tool) Execute(_ context.Context, params map[string]any) (string, error) {
	action, _ := params["action"].(string)
	result := t.service.Handle(action, params)
	out, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
