package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

const validateSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["open", "close"]},
		"count": {"type": "integer", "minimum": 1, "maximum": 10},
		"ratio": {"type": "number"},
		"force": {"type": "boolean"},
		"tags": {"type": "array", "items": {"type": "string"}},
		"options": {
			"type": "object",
			"properties": {"depth": {"type": "integer"}},
			"required": ["depth"]
		},
		"name": {"type": "string", "minLength": 3}
	},
	"required": ["action"]
}`

func TestValidateParams(t *testing.T) {
	cases := []struct {
		name    string
		args    map[string]any
		wantErr string // "" = valid
	}{
		{"minimal valid", map[string]any{"action": "open"}, ""},
		{"missing required", map[string]any{"count": float64(3)}, `missing required parameter "action"`},
		{"bad enum", map[string]any{"action": "toggle"}, `must be one of`},
		{"wrong type", map[string]any{"action": "open", "count": "three"}, `must be a number`},
		{"non-integer", map[string]any{"action": "open", "count": 1.5}, `must be an integer`},
		{"below minimum", map[string]any{"action": "open", "count": float64(0)}, `must be >=`},
		{"above maximum", map[string]any{"action": "open", "count": float64(11)}, `must be <=`},
		{"bad bool", map[string]any{"action": "open", "force": "yes"}, `must be a boolean`},
		{"bad array item", map[string]any{"action": "open", "tags": []any{"a", float64(2)}}, `tags[1]`},
		{"nested missing required", map[string]any{"action": "open", "options": map[string]any{}}, `options.depth`},
		{"nested valid", map[string]any{"action": "open", "options": map[string]any{"depth": float64(2)}}, ""},
		{"too short", map[string]any{"action": "open", "name": "ab"}, `at least 3 characters`},
		{"nil value skipped", map[string]any{"action": "open", "count": nil}, ""},
		{"unknown field ignored", map[string]any{"action": "open", "extra": 42}, ""},
		{"integral float accepted", map[string]any{"action": "open", "count": float64(4)}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateParams(json.RawMessage(validateSchema), tc.args)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateParamsUnparseableSchema(t *testing.T) {
	if err := ValidateParams(json.RawMessage(`{not json`), map[string]any{"x": 1}); err != nil {
		t.Fatalf("unparseable schema should accept anything, got %v", err)
	}
}

// fakeTool is a minimal tool for exercising the execution envelope.
type fakeTool struct {
	name   string
	result string
	err    error
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test tool" }
func (f *fakeTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"value": {"type": "string"}},
		"required": ["value"]
	}`)
}
func (f *fakeTool) Execute(_ context.Context, args map[string]any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	v, _ := args["value"].(string)
	return f.result + v, nil
}

func TestToolListExecuteEnvelope(t *testing.T) {
	list := NewToolList(&fakeTool{name: "echo", result: "got:"})

	if got := list.Execute(context.Background(), "missing", nil); got != "Tool not found: missing" {
		t.Errorf("unknown tool: got %q", got)
	}
	if got := list.Execute(context.Background(), "echo", map[string]any{}); !strings.HasPrefix(got, "Invalid parameters:") {
		t.Errorf("validation failure: got %q", got)
	}
	if got := list.Execute(context.Background(), "echo", map[string]any{"value": "hi"}); got != "got:hi" {
		t.Errorf("success: got %q", got)
	}
}

func TestToolListExecuteErrorEnvelope(t *testing.T) {
	list := NewToolList(&fakeTool{name: "boom", err: errBoom{}})

	got := list.Execute(context.Background(), "boom", map[string]any{"value": "x"})
	if got != "Error: boom" {
		t.Errorf("tool error: got %q", got)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
