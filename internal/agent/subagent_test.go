package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ambergull/ambergull/internal/bus"
	"github.com/ambergull/ambergull/internal/mcp"
	"github.com/ambergull/ambergull/internal/schema"
	"github.com/ambergull/ambergull/internal/tools"
)

func newTestSubagentManager(t *testing.T, provider schema.LLMProvider) (*SubagentManager, *bus.MessageBus) {
	t.Helper()
	settings := schema.AgentSettings{Model: "test-model", MaxIter: 5, MaxTokens: 1000}
	reg := tools.NewRegistryBuilder().Build()
	factory := NewFactory(provider, settings, settings, reg, mcp.NewManager(nil), t.TempDir())
	msgBus := bus.NewMessageBus(16)
	return NewSubagentManager(factory, msgBus), msgBus
}

func TestSpawnAnnouncesResultToOrigin(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("found 3 results")}}
	sm, msgBus := newTestSubagentManager(t, provider)

	ack, err := sm.Spawn(context.Background(), "search the docs", "doc search", "telegram", "42")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !strings.Contains(ack, "doc search") {
		t.Errorf("ack = %q", ack)
	}

	msg, ok := msgBus.ConsumeInbound(2 * time.Second)
	if !ok {
		t.Fatal("no announcement published")
	}
	if msg.Channel != string(bus.ChannelSystem) {
		t.Errorf("channel = %q, want system", msg.Channel)
	}
	if msg.ChatID != "telegram:42" {
		t.Errorf("chat id = %q, want telegram:42", msg.ChatID)
	}
	if !strings.Contains(msg.Content, "found 3 results") || !strings.Contains(msg.Content, "completed successfully") {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestSpawnLabelDefaultsToTask(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("done")}}
	sm, msgBus := newTestSubagentManager(t, provider)

	ack, err := sm.Spawn(context.Background(), "short task", "", "cli", "direct")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !strings.Contains(ack, "short task") {
		t.Errorf("ack = %q", ack)
	}
	msgBus.ConsumeInbound(2 * time.Second)
}

func TestSpawnBoundsConcurrency(t *testing.T) {
	sm, _ := newTestSubagentManager(t, &scriptedProvider{})

	// Fill the running table directly; goroutines would race the check.
	sm.mu.Lock()
	for i := 0; i < maxConcurrentSubagents; i++ {
		sm.running[string(rune('a'+i))] = func() {}
	}
	sm.mu.Unlock()

	if _, err := sm.Spawn(context.Background(), "one more", "", "cli", "direct"); err == nil {
		t.Fatal("expected fan-out limit error")
	}
}

func TestSubAgentSystemPromptMentionsRestrictions(t *testing.T) {
	settings := schema.AgentSettings{Model: "m", MaxIter: 5}
	reg := tools.NewRegistryBuilder().Build()
	factory := NewFactory(&scriptedProvider{}, settings, settings, reg, mcp.NewManager(nil), "/tmp/ws")

	prompt := factory.NewSubAgent().buildSystemPrompt()
	for _, want := range []string{"Subagent", "Spawn other subagents", "no message tool"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
