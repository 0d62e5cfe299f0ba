package heartbeat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ambergull/ambergull/internal/schema"
)

type fakeProvider struct {
	mu    sync.Mutex
	resp  schema.LLMResponse
	err   error
	calls int
}

func (p *fakeProvider) Chat(_ context.Context, _ schema.Messages, _ []map[string]any, _ schema.ChatOptions) (schema.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.resp, p.err
}

func (p *fakeProvider) DefaultModel() string { return "test-model" }

type fakeAgent struct {
	mu          sync.Mutex
	lastContent string
	lastChannel string
	calls       int
}

func (a *fakeAgent) ProcessDirect(_ context.Context, content, _, channel, _ string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.lastContent = content
	a.lastChannel = channel
	return "done"
}

func decisionResponse(action, tasks string) schema.LLMResponse {
	args := map[string]any{"action": action}
	if tasks != "" {
		args["tasks"] = tasks
	}
	return schema.LLMResponse{
		ToolCalls: []schema.ToolCallResponse{{Id: "c1", Name: "heartbeat_decision", Arguments: args}},
	}
}

func writeHeartbeat(t *testing.T, ws, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(ws, "HEARTBEAT.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCheckRunsTasksWhenModelSaysRun(t *testing.T) {
	ws := t.TempDir()
	writeHeartbeat(t, ws, "# HEARTBEAT\n- [x] check the backups\n")

	provider := &fakeProvider{resp: decisionResponse("run", "verify last night's backups")}
	agent := &fakeAgent{}
	s := NewService(ws, provider, "m", agent, time.Hour)

	s.check(context.Background())

	if agent.calls != 1 {
		t.Fatalf("agent calls = %d, want 1", agent.calls)
	}
	if agent.lastContent != "verify last night's backups" {
		t.Errorf("tasks = %q", agent.lastContent)
	}
	if agent.lastChannel != "heartbeat" {
		t.Errorf("channel = %q", agent.lastChannel)
	}
}

func TestCheckSkipsWhenModelSaysSkip(t *testing.T) {
	ws := t.TempDir()
	writeHeartbeat(t, ws, "daily review of open items\n")

	provider := &fakeProvider{resp: decisionResponse("skip", "")}
	agent := &fakeAgent{}
	NewService(ws, provider, "m", agent, time.Hour).check(context.Background())

	if agent.calls != 0 {
		t.Errorf("agent calls = %d, want 0", agent.calls)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestCheckSkipsWithoutHeartbeatFile(t *testing.T) {
	provider := &fakeProvider{}
	agent := &fakeAgent{}
	NewService(t.TempDir(), provider, "m", agent, time.Hour).check(context.Background())

	if provider.calls != 0 || agent.calls != 0 {
		t.Errorf("calls = provider %d / agent %d, want 0/0", provider.calls, agent.calls)
	}
}

func TestCheckSkipsEmptyHeartbeat(t *testing.T) {
	ws := t.TempDir()
	writeHeartbeat(t, ws, "# HEARTBEAT\n\n<!-- add tasks below -->\n- [ ] nothing yet\n")

	provider := &fakeProvider{}
	NewService(ws, provider, "m", &fakeAgent{}, time.Hour).check(context.Background())

	if provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0 (no active tasks)", provider.calls)
	}
}

func TestCheckTreatsProviderErrorAsSkip(t *testing.T) {
	ws := t.TempDir()
	writeHeartbeat(t, ws, "active task line\n")

	provider := &fakeProvider{err: errors.New("down")}
	agent := &fakeAgent{}
	NewService(ws, provider, "m", agent, time.Hour).check(context.Background())

	if agent.calls != 0 {
		t.Errorf("agent calls = %d, want 0", agent.calls)
	}
}

func TestHasActiveTasks(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"", false},
		{"# HEARTBEAT\n", false},
		{"<!-- comment -->\n", false},
		{"- [ ] unchecked\n", false},
		{"- [x] checked item\n", true},
		{"review the inbox\n", true},
		{"# Title\n\nplain line\n", true},
	}
	for _, tc := range cases {
		if got := hasActiveTasks(tc.content); got != tc.want {
			t.Errorf("hasActiveTasks(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	s := NewService(t.TempDir(), &fakeProvider{}, "m", &fakeAgent{}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	// Give the first Start a moment to claim the flag.
	time.Sleep(20 * time.Millisecond)
	if err := s.Start(ctx); err != nil {
		t.Errorf("second Start = %v, want nil no-op", err)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Start returned %v, want context.Canceled", err)
	}
}
