package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ambergull/ambergull/internal/schema"
)

// CronTool allows the agent to schedule reminders and recurring tasks.
// Delivery channel/chatID is read from the TurnContext on each call.
type CronTool struct {
	svc schema.CronService
}

// NewCronTool creates a CronTool backed by the given CronService.
func NewCronTool(svc schema.CronService) *CronTool {
	return &CronTool{svc: svc}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Description() string {
	return "Schedule reminders and recurring tasks. Actions: add, list, remove."
}

func (t *CronTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["add", "list", "remove"],
				"description": "Action to perform"
			},
			"message": {
				"type": "string",
				"description": "Reminder message or task instruction (for add)"
			},
			"every_seconds": {
				"type": "integer",
				"description": "Interval in seconds (for recurring tasks)"
			},
			"cron_expr": {
				"type": "string",
				"description": "Cron expression like '0 9 * * *' (for scheduled tasks)"
			},
			"tz": {
				"type": "string",
				"description": "IANA timezone for cron expressions (e.g. 'America/Vancouver')"
			},
			"in_seconds": {
				"type": "integer",
				"description": "Delay in seconds for a one-time execution"
			},
			"at": {
				"type": "string",
				"description": "ISO datetime for one-time execution (e.g. '2026-02-12T10:30:00')"
			},
			"mode": {
				"type": "string",
				"enum": ["reminder", "task"],
				"description": "reminder: deliver the message as-is; task: run a full agent turn"
			},
			"job_id": {
				"type": "string",
				"description": "Job ID (for remove)"
			}
		},
		"required": ["action"]
	}`)
}

func (t *CronTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	action, _ := params["action"].(string)
	switch action {
	case "add":
		return t.addJob(ctx, params), nil
	case "list":
		return t.listJobs(), nil
	case "remove":
		return t.removeJob(params), nil
	default:
		return fmt.Sprintf("Unknown action: %s", action), nil
	}
}

func (t *CronTool) addJob(ctx context.Context, params map[string]any) string {
	message, _ := params["message"].(string)
	if message == "" {
		return "Error: message is required for add"
	}

	tc := TurnCtx(ctx)
	if tc.Channel == "" || tc.ChatID == "" {
		return "Error: no session context (channel/chat_id)"
	}

	everySec, hasEvery := numericToInt64(params["every_seconds"])
	hasEvery = hasEvery && everySec > 0
	cronExpr, _ := params["cron_expr"].(string)
	hasCron := cronExpr != ""
	inSec, hasIn := numericToInt64(params["in_seconds"])
	hasIn = hasIn && inSec > 0
	atStr, _ := params["at"].(string)
	hasAt := atStr != ""

	count := 0
	for _, set := range []bool{hasEvery, hasCron, hasIn, hasAt} {
		if set {
			count++
		}
	}
	if count != 1 {
		return "Error: exactly one of every_seconds, cron_expr, in_seconds, or at is required"
	}

	var kind string
	var everyMs, atMs int64
	var tz string
	deleteAfterRun := false

	switch {
	case hasEvery:
		kind = "every"
		everyMs = everySec * 1000
	case hasCron:
		kind = "cron"
		if tzVal, ok := params["tz"].(string); ok {
			tz = tzVal
		}
	case hasIn:
		kind = "at"
		atMs = time.Now().UnixMilli() + inSec*1000
		deleteAfterRun = true
	case hasAt:
		dt, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			// Try without timezone (local)
			dt, err = time.ParseInLocation("2006-01-02T15:04:05", atStr, time.Local)
			if err != nil {
				return fmt.Sprintf("Error: invalid 'at' datetime %q: %v", atStr, err)
			}
		}
		kind = "at"
		atMs = dt.UnixMilli()
		deleteAfterRun = true
	}

	payloadKind := "system_event"
	if mode, ok := params["mode"].(string); ok && mode != "" {
		switch mode {
		case "reminder":
			payloadKind = "system_event"
		case "task":
			payloadKind = "agent_turn"
		default:
			return fmt.Sprintf("Error: invalid mode %q (use 'reminder' or 'task')", mode)
		}
	}

	name := message
	if r := []rune(name); len(r) > 30 {
		name = string(r[:30])
	}

	id, err := t.svc.AddJob(name, message, payloadKind, kind, everyMs, cronExpr, tz, atMs,
		true, tc.Channel, tc.ChatID, deleteAfterRun)
	if err != nil {
		return fmt.Sprintf("Error creating job: %v", err)
	}
	return fmt.Sprintf("Created job '%s' (id: %s)", name, id)
}

func (t *CronTool) listJobs() string {
	jobs := t.svc.ListJobs(false)
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}
	sb := "Scheduled jobs:\n"
	for _, j := range jobs {
		sb += fmt.Sprintf("- %s (id: %s, %s)\n", j.Name, j.ID, j.Kind)
	}
	return sb
}

func (t *CronTool) removeJob(params map[string]any) string {
	jobID, _ := params["job_id"].(string)
	if jobID == "" {
		return "Error: job_id is required for remove"
	}
	if t.svc.RemoveJob(jobID) {
		return fmt.Sprintf("Removed job %s", jobID)
	}
	return fmt.Sprintf("Job %s not found", jobID)
}

// numericToInt64 converts float64 or int from JSON params to int64.
func numericToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
