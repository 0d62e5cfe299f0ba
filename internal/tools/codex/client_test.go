package codex

import (
	"context"
	"strings"
	"testing"

	"github.com/ambergull/ambergull/internal/config"
)

func testClient(t *testing.T, cfg config.CodexToolConfig) *Client {
	t.Helper()
	return NewClient(t.TempDir(), cfg, false)
}

func baseCfg() config.CodexToolConfig {
	return config.CodexToolConfig{
		Enabled:             true,
		Command:             "codex",
		DefaultSandbox:      "workspace-write",
		AllowWorkspaceWrite: true,
		Timeout:             600,
		MaxOutputChars:      20000,
	}
}

func TestRunRejectsInvalidMode(t *testing.T) {
	c := testClient(t, baseCfg())
	res := c.Run(context.Background(), RunRequest{Prompt: "do it", Mode: "interactive"})
	if res.Err == nil || res.Err.Code != "invalid_mode" {
		t.Errorf("expected invalid_mode, got %+v", res.Err)
	}
}

func TestRunRejectsEmptyPrompt(t *testing.T) {
	c := testClient(t, baseCfg())
	res := c.Run(context.Background(), RunRequest{Prompt: "   "})
	if res.Err == nil || res.Err.Code != "invalid_prompt" {
		t.Errorf("expected invalid_prompt, got %+v", res.Err)
	}
}

func TestRunRejectsDangerousSandboxWithoutFlag(t *testing.T) {
	c := testClient(t, baseCfg())
	res := c.Run(context.Background(), RunRequest{Prompt: "task", Sandbox: "danger-full-access"})
	if res.Err == nil || res.Err.Code != "dangerous_full_access_not_allowed" {
		t.Errorf("expected dangerous_full_access_not_allowed, got %+v", res.Err)
	}
}

func TestRunRejectsWorkspaceWriteWhenDisabled(t *testing.T) {
	cfg := baseCfg()
	cfg.AllowWorkspaceWrite = false
	c := testClient(t, cfg)
	res := c.Run(context.Background(), RunRequest{Prompt: "task", Sandbox: "workspace-write"})
	if res.Err == nil || res.Err.Code != "workspace_write_not_allowed" {
		t.Errorf("expected workspace_write_not_allowed, got %+v", res.Err)
	}
}

func TestRunRejectsMissingWorkingDir(t *testing.T) {
	c := testClient(t, baseCfg())
	res := c.Run(context.Background(), RunRequest{Prompt: "task", WorkingDir: "does/not/exist"})
	if res.Err == nil || res.Err.Code != "invalid_working_dir" {
		t.Errorf("expected invalid_working_dir, got %+v", res.Err)
	}
}

func TestBuildArgsFullAccessReplacesSandbox(t *testing.T) {
	args := buildArgs("exec", "merge it", "danger-full-access", true, "/repo", "")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--dangerously-bypass-approvals-and-sandbox") {
		t.Error("full access run must bypass the sandbox flag")
	}
	if strings.Contains(joined, "--sandbox") {
		t.Error("--sandbox must be omitted under full access")
	}
	if !strings.Contains(joined, "--skip-git-repo-check") {
		t.Error("exec mode must skip the git repo check")
	}
}

func TestBuildArgsReviewMode(t *testing.T) {
	args := buildArgs("review", "check it", "read-only", false, "/repo", "gpt-5")
	joined := strings.Join(args, " ")
	if !strings.HasPrefix(joined, "exec review") {
		t.Errorf("review mode args = %v", args)
	}
	if !strings.Contains(joined, "--sandbox read-only") {
		t.Error("sandbox flag missing")
	}
	if !strings.Contains(joined, "-m gpt-5") {
		t.Error("model override missing")
	}
	if strings.Contains(joined, "--skip-git-repo-check") {
		t.Error("review mode must not skip the git repo check")
	}
}

func TestParseJSONLExtractsFinalMessage(t *testing.T) {
	stream := `{"type":"thread.started","thread_id":"thr-42"}
{"type":"item.completed","item":{"type":"agent_message","text":"first"}}
not json at all
{"type":"item.completed","item":{"type":"agent_message","text":"final answer"}}
{"type":"turn.completed","usage":{"input_tokens":10,"output_tokens":5}}`

	parsed := parseJSONL(stream)
	if parsed.threadID != "thr-42" {
		t.Errorf("threadID = %q", parsed.threadID)
	}
	if parsed.message != "final answer" {
		t.Errorf("message = %q, want last agent_message", parsed.message)
	}
	if parsed.usage == nil || parsed.usage["input_tokens"] != float64(10) {
		t.Errorf("usage = %v", parsed.usage)
	}
	if parsed.parseErrors != 1 {
		t.Errorf("parseErrors = %d, want 1", parsed.parseErrors)
	}
}

func TestTruncateRespectsLimit(t *testing.T) {
	cfg := baseCfg()
	cfg.MaxOutputChars = 5
	c := testClient(t, cfg)
	text, truncated := c.truncate("0123456789")
	if text != "01234" || !truncated {
		t.Errorf("truncate = %q/%v", text, truncated)
	}
}
