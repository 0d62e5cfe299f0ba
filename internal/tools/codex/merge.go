package codex

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ambergull/ambergull/internal/config"
)

const reportGlob = "upstream-main-conflict-report-*.md"

// runner abstracts the codex client so tests can script plan/execute runs.
type runner interface {
	Run(ctx context.Context, req RunRequest) *RunResult
}

// MergeTool plans and executes merge operations through Codex. Planning runs
// read-only; execution requires the dangerous-full-access allow flag plus a
// single-use confirmation token issued by the planning step.
type MergeTool struct {
	workspace  string
	cfg        config.CodexToolConfig
	store      *MergePlanStore
	planClient runner
	execClient runner
	repoRoot   string
}

// NewMergeTool creates the codex_merge tool. repoRoot is the default
// repository directory for codex runs; when empty or missing, the workspace
// is used.
func NewMergeTool(workspace string, cfg config.CodexToolConfig, restrictToWorkspace bool, repoRoot string) *MergeTool {
	planCfg := cfg
	planCfg.AllowDangerousFullAccess = false

	root := workspace
	if repoRoot != "" {
		if strings.HasPrefix(repoRoot, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				repoRoot = filepath.Join(home, repoRoot[2:])
			}
		}
		if info, err := os.Stat(repoRoot); err == nil && info.IsDir() {
			root, _ = filepath.Abs(repoRoot)
		}
	}

	return &MergeTool{
		workspace:  workspace,
		cfg:        cfg,
		store:      NewMergePlanStore(workspace),
		planClient: NewClient(workspace, planCfg, restrictToWorkspace),
		execClient: NewClient(workspace, cfg, restrictToWorkspace),
		repoRoot:   root,
	}
}

func (t *MergeTool) Name() string { return "codex_merge" }

func (t *MergeTool) Description() string {
	return "Codex merge advisor and executor. " +
		"Actions: plan_latest, revise_plan, execute_merge, status, list. " +
		"The agent only orchestrates and reports; codex performs merge/conflict/push operations."
}

func (t *MergeTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["plan_latest", "revise_plan", "execute_merge", "status", "list"],
				"description": "Action to run"
			},
			"plan_id": {
				"type": "string",
				"description": "Merge plan ID for revise_plan/execute_merge/status"
			},
			"feedback": {
				"type": "string",
				"description": "User feedback for revise_plan"
			},
			"confirmation_token": {
				"type": "string",
				"description": "Token required by execute_merge"
			},
			"base_ref": {
				"type": "string",
				"description": "Merge base ref for planning"
			},
			"upstream_ref": {
				"type": "string",
				"description": "Upstream ref to merge from"
			},
			"target_branch": {
				"type": "string",
				"description": "Target branch to merge into"
			},
			"working_dir": {
				"type": "string",
				"description": "Repository root used by codex"
			},
			"model": {
				"type": "string",
				"description": "Optional codex model override"
			},
			"timeout_sec": {
				"type": "integer",
				"minimum": 1,
				"maximum": 7200,
				"description": "Optional timeout override"
			},
			"limit": {
				"type": "integer",
				"minimum": 1,
				"maximum": 100,
				"description": "List action result limit"
			}
		},
		"required": ["action"]
	}`)
}

func (t *MergeTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	action, _ := params["action"].(string)
	action = strings.ToLower(strings.TrimSpace(action))

	switch action {
	case "plan_latest":
		return t.planLatest(ctx, params), nil
	case "revise_plan":
		return t.revisePlan(ctx, params), nil
	case "execute_merge":
		return t.executeMerge(ctx, params), nil
	case "status":
		return t.status(params), nil
	case "list":
		return t.list(params), nil
	default:
		return errPayload("invalid_action",
			"action must be one of plan_latest|revise_plan|execute_merge|status|list"), nil
	}
}

func (t *MergeTool) planLatest(ctx context.Context, params map[string]any) string {
	if !t.cfg.Enabled {
		return errPayload("codex_disabled", "tools.codex.enabled=false; codex_merge is unavailable")
	}

	reportPath := t.findLatestReport()
	if reportPath == "" {
		return errPayload("report_not_found",
			fmt.Sprintf("No report found under %s matching %s",
				filepath.Join(t.workspace, "reports"), reportGlob))
	}

	baseRef := stringParam(params, "base_ref", "origin/main")
	upstreamRef := stringParam(params, "upstream_ref", "upstream/main")
	targetBranch := stringParam(params, "target_branch", "main")
	workingDir := t.selectWorkingDir(stringParam(params, "working_dir", ""))

	reportExcerpt := readExcerpt(reportPath, 16000)
	prompt := t.buildPlanPrompt(reportPath, reportExcerpt, baseRef, upstreamRef, targetBranch)

	result := t.planClient.Run(ctx, RunRequest{
		Prompt:     prompt,
		Mode:       "exec",
		WorkingDir: workingDir,
		Sandbox:    "read-only",
		Model:      stringParam(params, "model", ""),
		TimeoutSec: intParam(params, "timeout_sec"),
	})
	if !result.OK {
		p := result.Payload()
		p["action"] = "plan_latest"
		return dump(p)
	}

	nowMs := time.Now().UnixMilli()
	planID := tokenHex(4)
	confirmationToken := tokenHex(16)
	record := &MergePlanRecord{
		PlanID:                planID,
		Status:                "planned",
		CreatedAtMs:           nowMs,
		UpdatedAtMs:           nowMs,
		BaseRef:               baseRef,
		UpstreamRef:           upstreamRef,
		TargetBranch:          targetBranch,
		WorkingDir:            workingDir,
		ReportPath:            reportPath,
		ReportExcerpt:         reportExcerpt,
		Recommendation:        result.Message,
		ConfirmationTokenHash: hashToken(confirmationToken),
		PlanThreadID:          result.ThreadID,
		PlanUsage:             orEmptyMap(result.Usage),
	}
	if err := t.store.Save(record); err != nil {
		return errPayload("store_failed", err.Error())
	}

	return dump(map[string]any{
		"ok":                 true,
		"action":             "plan_latest",
		"plan_id":            record.PlanID,
		"confirmation_token": confirmationToken,
		"status":             record.Status,
		"report_path":        record.ReportPath,
		"summary":            summarize(record.Recommendation, 800),
		"message":            "Merge plan prepared. Merge is not executed yet.",
	})
}

func (t *MergeTool) revisePlan(ctx context.Context, params map[string]any) string {
	if !t.cfg.Enabled {
		return errPayload("codex_disabled", "tools.codex.enabled=false; codex_merge is unavailable")
	}

	planID := stringParam(params, "plan_id", "")
	if planID == "" {
		return errPayload("missing_plan_id", "plan_id is required for revise_plan")
	}
	feedback := stringParam(params, "feedback", "")
	if feedback == "" {
		return errPayload("missing_feedback", "feedback is required for revise_plan")
	}

	record := t.store.Load(planID)
	if record == nil {
		return errPayload("plan_not_found", "plan_id not found: "+planID)
	}
	if !fileExists(record.ReportPath) {
		return errPayload("report_not_found", "report file not found: "+record.ReportPath)
	}

	reportExcerpt := readExcerpt(record.ReportPath, 16000)
	prompt := t.buildRevisePrompt(record, feedback, reportExcerpt)

	workingDir := record.WorkingDir
	if workingDir == "" {
		workingDir = t.selectWorkingDir("")
	}
	result := t.planClient.Run(ctx, RunRequest{
		Prompt:     prompt,
		Mode:       "exec",
		WorkingDir: workingDir,
		Sandbox:    "read-only",
		Model:      stringParam(params, "model", ""),
		TimeoutSec: intParam(params, "timeout_sec"),
	})
	if !result.OK {
		p := result.Payload()
		p["action"] = "revise_plan"
		p["plan_id"] = planID
		return dump(p)
	}

	confirmationToken := tokenHex(16)
	record.Recommendation = result.Message
	record.Status = "revised"
	record.Revision++
	record.LastFeedback = feedback
	record.UpdatedAtMs = time.Now().UnixMilli()
	record.PlanThreadID = result.ThreadID
	record.PlanUsage = orEmptyMap(result.Usage)
	record.ReportExcerpt = reportExcerpt
	record.ConfirmationTokenHash = hashToken(confirmationToken)
	if err := t.store.Save(record); err != nil {
		return errPayload("store_failed", err.Error())
	}

	return dump(map[string]any{
		"ok":                 true,
		"action":             "revise_plan",
		"plan_id":            record.PlanID,
		"confirmation_token": confirmationToken,
		"status":             record.Status,
		"revision":           record.Revision,
		"summary":            summarize(record.Recommendation, 800),
		"message":            "Merge plan revised. Merge is not executed yet.",
	})
}

func (t *MergeTool) executeMerge(ctx context.Context, params map[string]any) string {
	if !t.cfg.Enabled {
		return errPayload("codex_disabled", "tools.codex.enabled=false; codex_merge is unavailable")
	}
	if !t.cfg.AllowDangerousFullAccess {
		return errPayload("dangerous_full_access_not_allowed",
			"execute_merge requires tools.codex.allowDangerousFullAccess=true")
	}

	planID := stringParam(params, "plan_id", "")
	if planID == "" {
		return errPayload("missing_plan_id", "plan_id is required for execute_merge")
	}
	providedToken := stringParam(params, "confirmation_token", "")
	if providedToken == "" {
		return errPayload("missing_confirmation_token", "confirmation_token is required for execute_merge")
	}

	record := t.store.Load(planID)
	if record == nil {
		return errPayload("plan_not_found", "plan_id not found: "+planID)
	}

	expected := record.ConfirmationTokenHash
	provided := hashToken(providedToken)
	if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return errPayload("invalid_confirmation_token", "confirmation token mismatch")
	}

	if !fileExists(record.ReportPath) {
		return errPayload("report_not_found", "report file not found: "+record.ReportPath)
	}

	workingDir := record.WorkingDir
	if workingDir == "" {
		workingDir = t.selectWorkingDir("")
	}
	result := t.execClient.Run(ctx, RunRequest{
		Prompt:     t.buildExecutePrompt(record),
		Mode:       "exec",
		WorkingDir: workingDir,
		Sandbox:    "danger-full-access",
		Model:      stringParam(params, "model", ""),
		TimeoutSec: intParam(params, "timeout_sec"),
	})

	nowMs := time.Now().UnixMilli()
	if result.OK {
		record.Status = "executed"
		record.UpdatedAtMs = nowMs
		record.ConfirmationTokenHash = "" // single use
		record.Execution = &ExecutionResult{
			OK:       true,
			Summary:  summarize(result.Message, 1200),
			AtMs:     nowMs,
			ThreadID: result.ThreadID,
			Usage:    orEmptyMap(result.Usage),
		}
		if err := t.store.Save(record); err != nil {
			return errPayload("store_failed", err.Error())
		}
		return dump(map[string]any{
			"ok":      true,
			"action":  "execute_merge",
			"plan_id": record.PlanID,
			"status":  record.Status,
			"summary": record.Execution.Summary,
			"message": "Merge execution completed by codex.",
		})
	}

	errorMessage := extractErrorMessage(result)
	record.Status = "failed"
	record.UpdatedAtMs = nowMs
	record.Execution = &ExecutionResult{
		OK:       false,
		Summary:  errorMessage,
		AtMs:     nowMs,
		ThreadID: result.ThreadID,
		Usage:    orEmptyMap(result.Usage),
		Error:    errorMessage,
	}
	if err := t.store.Save(record); err != nil {
		return errPayload("store_failed", err.Error())
	}

	p := result.Payload()
	p["action"] = "execute_merge"
	p["plan_id"] = record.PlanID
	p["status"] = "failed"
	return dump(p)
}

func (t *MergeTool) status(params map[string]any) string {
	planID := stringParam(params, "plan_id", "")
	if planID == "" {
		return errPayload("missing_plan_id", "plan_id is required for status")
	}
	record := t.store.Load(planID)
	if record == nil {
		return errPayload("plan_not_found", "plan_id not found: "+planID)
	}
	return dump(map[string]any{
		"ok":     true,
		"action": "status",
		"plan":   record.PublicView(true),
	})
}

func (t *MergeTool) list(params map[string]any) string {
	limit := intParam(params, "limit")
	if limit == 0 {
		limit = 20
	}
	records := t.store.List(limit)
	plans := make([]map[string]any, 0, len(records))
	for _, record := range records {
		plans = append(plans, record.PublicView(false))
	}
	return dump(map[string]any{"ok": true, "action": "list", "plans": plans})
}

// findLatestReport returns the newest report file matching the glob, by
// modification time.
func (t *MergeTool) findLatestReport() string {
	reportsDir := filepath.Join(t.workspace, "reports")
	matches, err := filepath.Glob(filepath.Join(reportsDir, reportGlob))
	if err != nil || len(matches) == 0 {
		return ""
	}

	type candidate struct {
		path  string
		mtime time.Time
	}
	var candidates []candidate
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		candidates = append(candidates, candidate{path, info.ModTime()})
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mtime.After(candidates[j].mtime)
	})
	return candidates[0].path
}

func (t *MergeTool) selectWorkingDir(override string) string {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override)
	}
	return t.repoRoot
}

func (t *MergeTool) buildPlanPrompt(reportPath, reportExcerpt, baseRef, upstreamRef, targetBranch string) string {
	return "You are a senior merge advisor. Planning phase only.\n" +
		"Do not execute git commands and do not modify files.\n\n" +
		fmt.Sprintf("Repository working directory: %s\n", t.repoRoot) +
		fmt.Sprintf("Base ref: %s\n", baseRef) +
		fmt.Sprintf("Upstream ref: %s\n", upstreamRef) +
		fmt.Sprintf("Target branch: %s\n", targetBranch) +
		fmt.Sprintf("Report file: %s\n\n", reportPath) +
		"Analyze the report and produce a merge recommendation.\n" +
		"Required sections:\n" +
		"1. Overall recommendation\n" +
		"2. Conflict hotspots and risks\n" +
		"3. Suggested merge strategy\n" +
		"4. Concrete execution checklist for codex\n" +
		"5. Validation gates before push\n" +
		"6. Go/No-Go decision with rationale\n\n" +
		"Report content:\n" + reportExcerpt
}

func (t *MergeTool) buildRevisePrompt(record *MergePlanRecord, feedback, reportExcerpt string) string {
	return "You are revising a merge recommendation. Planning phase only.\n" +
		"Do not execute git commands and do not modify files.\n\n" +
		fmt.Sprintf("Plan ID: %s\n", record.PlanID) +
		fmt.Sprintf("Base ref: %s\n", record.BaseRef) +
		fmt.Sprintf("Upstream ref: %s\n", record.UpstreamRef) +
		fmt.Sprintf("Target branch: %s\n", record.TargetBranch) +
		fmt.Sprintf("Report path: %s\n\n", record.ReportPath) +
		"Previous recommendation:\n" + record.Recommendation + "\n\n" +
		"User feedback:\n" + feedback + "\n\n" +
		"Generate a revised recommendation with the same required sections.\n" +
		"Include a short change log compared with the previous recommendation.\n\n" +
		"Report content:\n" + reportExcerpt
}

func (t *MergeTool) buildExecutePrompt(record *MergePlanRecord) string {
	workingDir := record.WorkingDir
	if workingDir == "" {
		workingDir = t.repoRoot
	}
	return "You are responsible for executing a real merge workflow.\n" +
		"You must perform all steps yourself in the repository.\n" +
		"Tasks:\n" +
		"1. Analyze the report and previous recommendation.\n" +
		"2. Fetch remotes, prepare branch, and merge upstream into target branch.\n" +
		"3. Resolve conflicts by editing code directly when needed.\n" +
		"4. Run minimal relevant verification before push.\n" +
		"5. Push results to origin target branch if verification passes.\n" +
		"6. If not safe, stop and explain exactly why.\n\n" +
		fmt.Sprintf("Working directory: %s\n", workingDir) +
		fmt.Sprintf("Base ref: %s\n", record.BaseRef) +
		fmt.Sprintf("Upstream ref: %s\n", record.UpstreamRef) +
		fmt.Sprintf("Target branch: %s\n", record.TargetBranch) +
		fmt.Sprintf("Report path: %s\n\n", record.ReportPath) +
		"Previous recommendation:\n" + record.Recommendation + "\n\n" +
		"Return a final summary with:\n" +
		"- merged files/conflicts\n" +
		"- verification commands and outcomes\n" +
		"- push result\n" +
		"- follow-up risks"
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func tokenHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func readExcerpt(path string, limit int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	text := string(data)
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func summarize(text string, maxChars int) string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return ""
	}
	var lines []string
	for _, line := range strings.Split(clean, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
		if len(lines) == 8 {
			break
		}
	}
	compact := strings.Join(lines, "\n")
	if len(compact) <= maxChars {
		return compact
	}
	return strings.TrimRight(compact[:maxChars], " \t\n") + "..."
}

func extractErrorMessage(result *RunResult) string {
	if result.Err != nil && strings.TrimSpace(result.Err.Message) != "" {
		return strings.TrimSpace(result.Err.Message)
	}
	if strings.TrimSpace(result.Message) != "" {
		return strings.TrimSpace(result.Message)
	}
	return "codex execution failed"
}

func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func intParam(params map[string]any, key string) int {
	if v, ok := params[key].(float64); ok {
		return int(v)
	}
	if v, ok := params[key].(int); ok {
		return v
	}
	return 0
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func dump(payload map[string]any) string {
	out, _ := json.Marshal(payload)
	return string(out)
}

func errPayload(code, message string) string {
	return dump(map[string]any{
		"ok":    false,
		"error": map[string]any{"code": code, "message": message},
	})
}
