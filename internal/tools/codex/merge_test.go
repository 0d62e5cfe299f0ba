package codex

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ambergull/ambergull/internal/config"
)

// scriptedRunner returns canned results and counts invocations.
type scriptedRunner struct {
	results []*RunResult
	calls   int
}

func (r *scriptedRunner) Run(_ context.Context, _ RunRequest) *RunResult {
	if r.calls < len(r.results) {
		res := r.results[r.calls]
		r.calls++
		return res
	}
	r.calls++
	return &RunResult{OK: true, Message: "ok"}
}

func okRun(message string) *RunResult {
	return &RunResult{OK: true, Mode: "exec", Message: message, ThreadID: "thr-1"}
}

func newMergeTool(t *testing.T, allowFullAccess bool) (*MergeTool, *scriptedRunner, *scriptedRunner, string) {
	t.Helper()
	ws := t.TempDir()

	reportsDir := filepath.Join(ws, "reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	report := filepath.Join(reportsDir, "upstream-main-conflict-report-20260801.md")
	if err := os.WriteFile(report, []byte("# Conflict report\n\nsome conflicts"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.CodexToolConfig{
		Enabled:                  true,
		Command:                  "codex",
		DefaultSandbox:           "workspace-write",
		AllowDangerousFullAccess: allowFullAccess,
		AllowWorkspaceWrite:      true,
		Timeout:                  600,
		MaxOutputChars:           20000,
	}

	tool := NewMergeTool(ws, cfg, false, "")
	plan := &scriptedRunner{results: []*RunResult{okRun("plan recommendation")}}
	exec := &scriptedRunner{results: []*RunResult{okRun("merge completed")}}
	tool.planClient = plan
	tool.execClient = exec
	return tool, plan, exec, ws
}

func decode(t *testing.T, payload string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		t.Fatalf("invalid JSON payload: %v\n%s", err, payload)
	}
	return out
}

func errCode(t *testing.T, payload map[string]any) string {
	t.Helper()
	errObj, _ := payload["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestPlanLatestIssuesTokenOnce(t *testing.T) {
	tool, plan, _, _ := newMergeTool(t, true)

	out := decode(t, mustExec(t, tool, map[string]any{"action": "plan_latest"}))
	if out["ok"] != true {
		t.Fatalf("plan_latest failed: %v", out)
	}
	if plan.calls != 1 {
		t.Errorf("plan client calls = %d, want 1", plan.calls)
	}

	token, _ := out["confirmation_token"].(string)
	if len(token) != 32 {
		t.Errorf("token length = %d, want 32 hex chars", len(token))
	}

	planID, _ := out["plan_id"].(string)
	record := tool.store.Load(planID)
	if record == nil {
		t.Fatal("plan record not persisted")
	}
	if record.ConfirmationTokenHash == token {
		t.Error("store must hold the hash, not the raw token")
	}
	if record.ConfirmationTokenHash != hashToken(token) {
		t.Error("stored hash does not match issued token")
	}

	// status must never leak the token or its hash
	statusRaw := mustExec(t, tool, map[string]any{"action": "status", "plan_id": planID})
	if strings.Contains(statusRaw, token) || strings.Contains(statusRaw, record.ConfirmationTokenHash) {
		t.Error("status response leaked confirmation token material")
	}
}

func TestPlanLatestWithoutReport(t *testing.T) {
	ws := t.TempDir()
	cfg := config.CodexToolConfig{Enabled: true, Command: "codex", DefaultSandbox: "workspace-write", Timeout: 60, MaxOutputChars: 1000}
	tool := NewMergeTool(ws, cfg, false, "")
	tool.planClient = &scriptedRunner{}

	out := decode(t, mustExec(t, tool, map[string]any{"action": "plan_latest"}))
	if got := errCode(t, out); got != "report_not_found" {
		t.Errorf("error code = %q, want report_not_found", got)
	}
}

func TestExecuteMergeTokenGate(t *testing.T) {
	tool, _, execRunner, _ := newMergeTool(t, true)

	planOut := decode(t, mustExec(t, tool, map[string]any{"action": "plan_latest"}))
	planID, _ := planOut["plan_id"].(string)
	token, _ := planOut["confirmation_token"].(string)

	// Missing token
	out := decode(t, mustExec(t, tool, map[string]any{"action": "execute_merge", "plan_id": planID}))
	if got := errCode(t, out); got != "missing_confirmation_token" {
		t.Errorf("error code = %q, want missing_confirmation_token", got)
	}

	// Wrong token
	out = decode(t, mustExec(t, tool, map[string]any{
		"action": "execute_merge", "plan_id": planID, "confirmation_token": "deadbeef",
	}))
	if got := errCode(t, out); got != "invalid_confirmation_token" {
		t.Errorf("error code = %q, want invalid_confirmation_token", got)
	}
	if execRunner.calls != 0 {
		t.Fatalf("codex must not run before a valid token, calls = %d", execRunner.calls)
	}

	// Correct token: exactly one codex invocation, hash cleared.
	out = decode(t, mustExec(t, tool, map[string]any{
		"action": "execute_merge", "plan_id": planID, "confirmation_token": token,
	}))
	if out["ok"] != true {
		t.Fatalf("execute_merge failed: %v", out)
	}
	if execRunner.calls != 1 {
		t.Errorf("exec calls = %d, want 1", execRunner.calls)
	}
	record := tool.store.Load(planID)
	if record.Status != "executed" {
		t.Errorf("status = %q, want executed", record.Status)
	}
	if record.ConfirmationTokenHash != "" {
		t.Error("confirmation hash must be cleared after successful execution")
	}

	// Token is single-use.
	out = decode(t, mustExec(t, tool, map[string]any{
		"action": "execute_merge", "plan_id": planID, "confirmation_token": token,
	}))
	if got := errCode(t, out); got != "invalid_confirmation_token" {
		t.Errorf("reused token error code = %q, want invalid_confirmation_token", got)
	}
}

func TestExecuteMergeFailureRetainsHash(t *testing.T) {
	tool, _, _, _ := newMergeTool(t, true)
	tool.execClient = &scriptedRunner{results: []*RunResult{
		{Err: &RunError{Code: "codex_failed", Message: "merge blew up"}},
	}}

	planOut := decode(t, mustExec(t, tool, map[string]any{"action": "plan_latest"}))
	planID, _ := planOut["plan_id"].(string)
	token, _ := planOut["confirmation_token"].(string)

	out := decode(t, mustExec(t, tool, map[string]any{
		"action": "execute_merge", "plan_id": planID, "confirmation_token": token,
	}))
	if out["ok"] == true {
		t.Fatal("expected failure envelope")
	}

	record := tool.store.Load(planID)
	if record.Status != "failed" {
		t.Errorf("status = %q, want failed", record.Status)
	}
	if record.ConfirmationTokenHash == "" {
		t.Error("hash must be retained after a failed execution")
	}
	if record.Execution == nil || record.Execution.OK {
		t.Error("failed execution must be recorded")
	}
}

func TestExecuteMergeRequiresFullAccessFlag(t *testing.T) {
	tool, _, _, _ := newMergeTool(t, false)

	out := decode(t, mustExec(t, tool, map[string]any{
		"action": "execute_merge", "plan_id": "abcd1234", "confirmation_token": "x",
	}))
	if got := errCode(t, out); got != "dangerous_full_access_not_allowed" {
		t.Errorf("error code = %q, want dangerous_full_access_not_allowed", got)
	}
}

func TestRevisePlanRotatesToken(t *testing.T) {
	tool, plan, _, _ := newMergeTool(t, true)
	plan.results = append(plan.results, okRun("revised recommendation"))

	planOut := decode(t, mustExec(t, tool, map[string]any{"action": "plan_latest"}))
	planID, _ := planOut["plan_id"].(string)
	oldToken, _ := planOut["confirmation_token"].(string)

	reviseOut := decode(t, mustExec(t, tool, map[string]any{
		"action": "revise_plan", "plan_id": planID, "feedback": "be more careful",
	}))
	if reviseOut["ok"] != true {
		t.Fatalf("revise_plan failed: %v", reviseOut)
	}
	newToken, _ := reviseOut["confirmation_token"].(string)
	if newToken == oldToken {
		t.Error("revise_plan must rotate the confirmation token")
	}

	record := tool.store.Load(planID)
	if record.Status != "revised" || record.Revision != 1 {
		t.Errorf("status/revision = %q/%d, want revised/1", record.Status, record.Revision)
	}
	if record.ConfirmationTokenHash != hashToken(newToken) {
		t.Error("stored hash must match the rotated token")
	}
	if record.ConfirmationTokenHash == hashToken(oldToken) {
		t.Error("old token must no longer be valid")
	}
}

func TestListNewestFirst(t *testing.T) {
	ws := t.TempDir()
	store := NewMergePlanStore(ws)
	for i, id := range []string{"aaaa0001", "bbbb0002", "cccc0003"} {
		if err := store.Save(&MergePlanRecord{
			PlanID:      id,
			Status:      "planned",
			UpdatedAtMs: int64(1000 + i),
			PlanUsage:   map[string]any{},
		}); err != nil {
			t.Fatal(err)
		}
	}

	records := store.List(2)
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].PlanID != "cccc0003" || records[1].PlanID != "bbbb0002" {
		t.Errorf("unexpected order: %s, %s", records[0].PlanID, records[1].PlanID)
	}
}

func mustExec(t *testing.T, tool *MergeTool, params map[string]any) string {
	t.Helper()
	out, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	return out
}
