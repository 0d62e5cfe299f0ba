package tools

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ambergull/ambergull/internal/schema"
)

// recordingCronService captures AddJob arguments for assertions.
type recordingCronService struct {
	name    string
	kind    string
	everyMs int64
	jobs    []schema.CronJobSummary
	removed string
}

func (s *recordingCronService) AddJob(
	name, message, payloadKind, kind string,
	everyMs int64, cronExpr, tz string, atMs int64,
	deliver bool, channel, to string, deleteAfterRun bool,
) (string, error) {
	s.name = name
	s.kind = kind
	s.everyMs = everyMs
	return "job1", nil
}

func (s *recordingCronService) ListJobs(bool) []schema.CronJobSummary { return s.jobs }
func (s *recordingCronService) RemoveJob(id string) bool              { s.removed = id; return true }
func (s *recordingCronService) EnableJob(string, bool) bool           { return true }

func cronTurnCtx() context.Context {
	return WithTurn(context.Background(), TurnContext{Channel: "telegram", ChatID: "42"})
}

func TestCronToolAddEvery(t *testing.T) {
	svc := &recordingCronService{}
	tool := NewCronTool(svc)

	out, err := tool.Execute(cronTurnCtx(), map[string]any{
		"action":        "add",
		"message":       "water the plants",
		"every_seconds": float64(3600),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "job1") {
		t.Errorf("output = %q", out)
	}
	if svc.kind != "every" || svc.everyMs != 3600000 {
		t.Errorf("kind=%q everyMs=%d", svc.kind, svc.everyMs)
	}
	if svc.name != "water the plants" {
		t.Errorf("name = %q", svc.name)
	}
}

func TestCronToolDefaultNameKeepsRunesIntact(t *testing.T) {
	svc := &recordingCronService{}
	tool := NewCronTool(svc)

	// 40 multi-byte runes: a byte-index cut would land mid-rune.
	message := strings.Repeat("ü", 40)
	if _, err := tool.Execute(cronTurnCtx(), map[string]any{
		"action":        "add",
		"message":       message,
		"every_seconds": float64(60),
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !utf8.ValidString(svc.name) {
		t.Fatalf("job name is not valid UTF-8: %q", svc.name)
	}
	if got := []rune(svc.name); len(got) != 30 {
		t.Errorf("job name length = %d runes, want 30", len(got))
	}
}

func TestCronToolAddRequiresExactlyOneSchedule(t *testing.T) {
	tool := NewCronTool(&recordingCronService{})

	out, _ := tool.Execute(cronTurnCtx(), map[string]any{
		"action":        "add",
		"message":       "x",
		"every_seconds": float64(60),
		"cron_expr":     "0 9 * * *",
	})
	if !strings.Contains(out, "exactly one of") {
		t.Errorf("output = %q", out)
	}

	out, _ = tool.Execute(cronTurnCtx(), map[string]any{"action": "add", "message": "x"})
	if !strings.Contains(out, "exactly one of") {
		t.Errorf("output = %q", out)
	}
}

func TestCronToolAddWithoutTurnContext(t *testing.T) {
	tool := NewCronTool(&recordingCronService{})

	out, _ := tool.Execute(context.Background(), map[string]any{
		"action":        "add",
		"message":       "x",
		"every_seconds": float64(60),
	})
	if !strings.Contains(out, "no session context") {
		t.Errorf("output = %q", out)
	}
}

func TestCronToolRemove(t *testing.T) {
	svc := &recordingCronService{}
	tool := NewCronTool(svc)

	out, _ := tool.Execute(cronTurnCtx(), map[string]any{"action": "remove", "job_id": "job9"})
	if svc.removed != "job9" || !strings.Contains(out, "Removed job job9") {
		t.Errorf("removed=%q output=%q", svc.removed, out)
	}
}
