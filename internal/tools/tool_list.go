package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ambergull/ambergull/internal/schema"
)

// ToolList holds a named set of tools and exposes them for LLM calls and
// runtime extension (e.g. MCP servers).
type ToolList struct {
	tools map[string]schema.Tool
}

func NewToolList(ts ...schema.Tool) *ToolList {
	list := ToolList{tools: make(map[string]schema.Tool, len(ts))}
	for _, t := range ts {
		list.tools[t.Name()] = t
	}

	return &list
}

// Get returns the tool with the given name, or nil if not found.
func (r *ToolList) Get(name string) schema.Tool {
	return r.tools[name]
}

// Add registers a new tool, replacing any existing tool with the same name.
func (r *ToolList) Add(t schema.Tool) schema.Tool {
	r.tools[t.Name()] = t

	return t
}

// Remove unregisters a tool by name. Used by the MCP scope guard on close.
func (r *ToolList) Remove(name string) {
	delete(r.tools, name)
}

// Names returns the registered tool names, sorted.
func (r *ToolList) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute validates args against the tool's declared parameter schema and
// runs the tool. Every failure mode collapses into the string envelope so
// a bad tool call can never kill the turn.
func (r *ToolList) Execute(ctx context.Context, name string, args map[string]any) string {
	t := r.tools[name]
	if t == nil {
		return fmt.Sprintf("Tool not found: %s", name)
	}

	if err := ValidateParams(t.Parameters(), args); err != nil {
		return fmt.Sprintf("Invalid parameters: %v", err)
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return result
}

// Definitions returns all tool definitions in OpenAI function-calling format.
func (r *ToolList) Definitions() []map[string]any {
	list := make([]map[string]any, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		var params any
		if err := json.Unmarshal(t.Parameters(), &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		list = append(list, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  params,
			},
		})
	}
	return list
}
