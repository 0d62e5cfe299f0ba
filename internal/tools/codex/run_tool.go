package codex

import (
	"context"
	"encoding/json"

	"github.com/ambergull/ambergull/internal/config"
)

// RunTool exposes non-interactive Codex CLI runs to the LLM.
type RunTool struct {
	client *Client
}

// NewRunTool creates the codex_run tool.
func NewRunTool(workspace string, cfg config.CodexToolConfig, restrictToWorkspace bool) *RunTool {
	return &RunTool{client: NewClient(workspace, cfg, restrictToWorkspace)}
}

func (t *RunTool) Name() string { return "codex_run" }

func (t *RunTool) Description() string {
	return "Run Codex CLI non-interactively for coding tasks. " +
		"Supports exec and review mode. " +
		"When allowDangerousFullAccess is enabled, full access is applied automatically."
}

func (t *RunTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {
				"type": "string",
				"description": "Task instructions for Codex",
				"minLength": 1
			},
			"mode": {
				"type": "string",
				"enum": ["exec", "review"],
				"description": "Run mode: exec for general tasks, review for code review"
			},
			"working_dir": {
				"type": "string",
				"description": "Working directory for Codex (relative paths are under workspace)"
			},
			"sandbox": {
				"type": "string",
				"enum": ["read-only", "workspace-write", "danger-full-access"],
				"description": "Codex sandbox mode"
			},
			"model": {
				"type": "string",
				"description": "Optional model override for Codex"
			},
			"timeout_sec": {
				"type": "integer",
				"minimum": 1,
				"maximum": 7200,
				"description": "Optional timeout override in seconds"
			}
		},
		"required": ["prompt"]
	}`)
}

func (t *RunTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	req := RunRequest{}
	req.Prompt, _ = params["prompt"].(string)
	req.Mode, _ = params["mode"].(string)
	req.WorkingDir, _ = params["working_dir"].(string)
	req.Sandbox, _ = params["sandbox"].(string)
	req.Model, _ = params["model"].(string)
	if v, ok := params["timeout_sec"].(float64); ok {
		req.TimeoutSec = int(v)
	}

	result := t.client.Run(ctx, req)
	out, err := json.Marshal(result.Payload())
	if err != nil {
		return "", err
	}
	return string(out), nil
}
