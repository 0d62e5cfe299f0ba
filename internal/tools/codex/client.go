// Package codex shells out to the Codex CLI in non-interactive JSON-stream
// mode and layers a merge-plan state machine on top of it.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ambergull/ambergull/internal/config"
)

var (
	validModes     = []string{"exec", "review"}
	validSandboxes = []string{"read-only", "workspace-write", "danger-full-access"}
)

// RunRequest describes one codex invocation.
type RunRequest struct {
	Prompt     string
	Mode       string // "exec" (default) or "review"
	WorkingDir string // relative paths resolve under the workspace
	Sandbox    string // defaults to the configured sandbox
	Model      string
	TimeoutSec int // 0 uses the configured timeout
}

// RunError is the structured error inside a failed RunResult.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunResult is the normalized outcome of a codex invocation.
type RunResult struct {
	OK               bool
	Mode             string
	Sandbox          string
	ThreadID         string
	Message          string
	Usage            map[string]any
	MessageTruncated bool
	Stderr           string
	StderrTruncated  bool
	ExitCode         int
	Err              *RunError
}

// Payload renders the result as the JSON envelope returned to the LLM.
func (r *RunResult) Payload() map[string]any {
	if r.Err != nil {
		p := map[string]any{
			"ok":    false,
			"error": map[string]any{"code": r.Err.Code, "message": r.Err.Message},
		}
		if r.ExitCode != 0 {
			p["exit_code"] = r.ExitCode
		}
		if r.ThreadID != "" {
			p["thread_id"] = r.ThreadID
		}
		if r.Usage != nil {
			p["usage"] = r.Usage
		}
		if r.Stderr != "" {
			p["stderr"] = r.Stderr
			p["stderr_truncated"] = r.StderrTruncated
		}
		return p
	}
	usage := r.Usage
	if usage == nil {
		usage = map[string]any{}
	}
	p := map[string]any{
		"ok":                true,
		"mode":              r.Mode,
		"sandbox":           r.Sandbox,
		"thread_id":         r.ThreadID,
		"message":           r.Message,
		"usage":             usage,
		"message_truncated": r.MessageTruncated,
	}
	if r.Stderr != "" {
		p["stderr"] = r.Stderr
		p["stderr_truncated"] = r.StderrTruncated
	}
	return p
}

func runError(code, message string) *RunResult {
	return &RunResult{Err: &RunError{Code: code, Message: message}}
}

// Client executes the Codex CLI and normalizes its JSONL event stream.
type Client struct {
	workspace           string
	cfg                 config.CodexToolConfig
	restrictToWorkspace bool
}

// NewClient creates a codex Client rooted at the given workspace.
func NewClient(workspace string, cfg config.CodexToolConfig, restrictToWorkspace bool) *Client {
	return &Client{workspace: workspace, cfg: cfg, restrictToWorkspace: restrictToWorkspace}
}

// Run executes codex and returns a structured result. Policy failures and
// subprocess errors are reported in the result, never as a Go error.
func (c *Client) Run(ctx context.Context, req RunRequest) *RunResult {
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = "exec"
	}
	if !contains(validModes, mode) {
		return runError("invalid_mode", fmt.Sprintf("mode must be one of %v", validModes))
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return runError("invalid_prompt", "prompt must not be empty")
	}

	cwd, err := c.resolveWorkingDir(req.WorkingDir)
	if err != nil {
		return runError("invalid_working_dir", err.Error())
	}

	sandbox := strings.ToLower(strings.TrimSpace(req.Sandbox))
	if sandbox == "" {
		sandbox = c.cfg.DefaultSandbox
	}
	if !contains(validSandboxes, sandbox) {
		return runError("invalid_sandbox", fmt.Sprintf("sandbox must be one of %v", validSandboxes))
	}

	fullAccess := c.cfg.AllowDangerousFullAccess
	effectiveSandbox := sandbox
	if fullAccess {
		effectiveSandbox = "danger-full-access"
	}
	if sandbox == "danger-full-access" && !fullAccess {
		return runError("dangerous_full_access_not_allowed",
			"danger-full-access requires tools.codex.allowDangerousFullAccess=true")
	}
	if effectiveSandbox == "workspace-write" && !c.cfg.AllowWorkspaceWrite {
		return runError("workspace_write_not_allowed",
			"workspace-write sandbox is disabled by tools.codex.allowWorkspaceWrite")
	}

	timeout := req.TimeoutSec
	if timeout == 0 {
		timeout = c.cfg.Timeout
	}
	if timeout <= 0 {
		return runError("invalid_timeout", "timeout_sec must be >= 1")
	}

	command := c.resolveCommand()
	if command == "" {
		return runError("command_not_found", "Codex command not found: "+c.cfg.Command)
	}

	args := buildArgs(mode, prompt, effectiveSandbox, fullAccess, cwd, req.Model)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return runError("timeout", fmt.Sprintf("codex_run timed out after %d seconds", timeout))
	}

	parsed := parseJSONL(stdout.String())
	message, messageTruncated := c.truncate(parsed.message)
	stderrText, stderrTruncated := c.truncate(strings.TrimSpace(stderr.String()))

	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		msg := message
		if msg == "" {
			msg = stderrText
		}
		if msg == "" {
			msg = fmt.Sprintf("Codex exited with code %d", exitCode)
		}
		return &RunResult{
			Err:             &RunError{Code: "codex_failed", Message: msg},
			ExitCode:        exitCode,
			ThreadID:        parsed.threadID,
			Usage:           parsed.usage,
			Stderr:          stderrText,
			StderrTruncated: stderrTruncated,
		}
	}

	if message == "" {
		errMsg := "No final agent_message found in Codex output"
		if parsed.parseErrors > 0 {
			errMsg = "Failed to parse Codex JSON output"
		}
		return &RunResult{
			Err:             &RunError{Code: "invalid_output", Message: errMsg},
			ThreadID:        parsed.threadID,
			Usage:           parsed.usage,
			Stderr:          stderrText,
			StderrTruncated: stderrTruncated,
		}
	}

	return &RunResult{
		OK:               true,
		Mode:             mode,
		Sandbox:          effectiveSandbox,
		ThreadID:         parsed.threadID,
		Message:          message,
		Usage:            parsed.usage,
		MessageTruncated: messageTruncated,
		Stderr:           stderrText,
		StderrTruncated:  stderrTruncated,
	}
}

func (c *Client) resolveWorkingDir(workingDir string) (string, error) {
	if strings.TrimSpace(workingDir) == "" {
		return c.workspace, nil
	}

	path := workingDir
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.workspace, path)
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = real
	}

	if c.restrictToWorkspace {
		ws := c.workspace
		if real, err := filepath.EvalSymlinks(ws); err == nil {
			ws = real
		}
		if resolved != ws && !strings.HasPrefix(resolved, ws+string(filepath.Separator)) {
			return "", fmt.Errorf("working_dir %s is outside workspace %s", resolved, c.workspace)
		}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("working_dir does not exist: %s", resolved)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working_dir is not a directory: %s", resolved)
	}
	return resolved, nil
}

func (c *Client) resolveCommand() string {
	command := strings.TrimSpace(c.cfg.Command)
	if command == "" {
		return ""
	}
	if resolved, err := exec.LookPath(command); err == nil {
		return resolved
	}
	if strings.HasPrefix(command, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			command = filepath.Join(home, command[2:])
		}
	}
	if _, err := os.Stat(command); err == nil {
		abs, _ := filepath.Abs(command)
		return abs
	}
	return ""
}

func buildArgs(mode, prompt, sandbox string, fullAccess bool, cwd, model string) []string {
	args := []string{"exec"}
	if mode == "review" {
		args = append(args, "review")
	}
	args = append(args, "--json", "-c", `approval_policy="never"`)
	if fullAccess {
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	} else {
		args = append(args, "--sandbox", sandbox)
	}
	args = append(args, "-C", cwd)
	if mode == "exec" {
		args = append(args, "--skip-git-repo-check")
	}
	if model != "" {
		args = append(args, "-m", model)
	}
	return append(args, prompt)
}

type parsedStream struct {
	threadID    string
	message     string
	usage       map[string]any
	parseErrors int
}

// parseJSONL scans the codex event stream for the thread id, the final
// agent_message text, and turn usage.
func parseJSONL(text string) parsedStream {
	var out parsedStream
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			out.parseErrors++
			continue
		}

		switch event["type"] {
		case "thread.started":
			if id, ok := event["thread_id"].(string); ok {
				out.threadID = id
			}
		case "item.completed":
			item, ok := event["item"].(map[string]any)
			if !ok || item["type"] != "agent_message" {
				continue
			}
			if text, ok := item["text"].(string); ok {
				out.message = text
			}
		case "turn.completed":
			if usage, ok := event["usage"].(map[string]any); ok {
				out.usage = usage
			}
		}
	}
	return out
}

func (c *Client) truncate(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	limit := c.cfg.MaxOutputChars
	if limit < 1 {
		limit = 1
	}
	if len(text) <= limit {
		return text, false
	}
	return text[:limit], true
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
