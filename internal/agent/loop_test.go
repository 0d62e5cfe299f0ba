package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ambergull/ambergull/internal/bus"
	"github.com/ambergull/ambergull/internal/mcp"
	"github.com/ambergull/ambergull/internal/redact"
	"github.com/ambergull/ambergull/internal/schema"
	"github.com/ambergull/ambergull/internal/session"
	"github.com/ambergull/ambergull/internal/tools"
)

// echoTool is a trivial tool that records invocations.
type echoTool struct {
	calls  int
	result string
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "echoes input" }
func (e *echoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}
func (e *echoTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	e.calls++
	return e.result, nil
}

// notifyTool simulates the message tool: it signals MessageSent on the turn.
type notifyTool struct{}

func (n *notifyTool) Name() string                { return "message" }
func (n *notifyTool) Description() string         { return "sends a message" }
func (n *notifyTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (n *notifyTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	tc := tools.TurnCtx(ctx)
	if tc.MessageSent != nil {
		select {
		case tc.MessageSent <- struct{}{}:
		default:
		}
	}
	return "Message sent", nil
}

// drainReplies collects pending outbound messages, dropping progress updates.
func drainReplies(msgBus *bus.MessageBus) []bus.OutboundMessage {
	var out []bus.OutboundMessage
	for {
		select {
		case m := <-msgBus.OutboundChan():
			if isProgress, _ := m.Metadata["_progress"].(bool); isProgress {
				continue
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func toolCallResponse(name string, args map[string]any) schema.LLMResponse {
	return schema.LLMResponse{
		ToolCalls:    []schema.ToolCallResponse{{Id: "call_1", Name: name, Arguments: args}},
		FinishReason: "tool_calls",
	}
}

func newTestLoop(t *testing.T, provider schema.LLMProvider, reg *tools.Registry) (*AgentLoop, *bus.MessageBus, *session.Manager) {
	t.Helper()
	ws := t.TempDir()

	sessions, err := session.NewManager(ws)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}
	store, err := NewMemoryStore(ws)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	settings := schema.AgentSettings{Model: "test-model", MaxIter: 10, MaxTokens: 1000, Temperature: 0.7, MemoryWindow: 50}
	compactor := NewMemoryCompactor(store, sessions, provider, settings.Model, settings.MemoryWindow)

	mcpMgr := mcp.NewManager(nil)
	factory := NewFactory(provider, settings, settings, reg, mcpMgr, ws)

	msgBus := bus.NewMessageBus(16)
	redactor := redact.New(redact.Options{})
	policy := redact.NewOutboundPolicy(ws, redactor, false)
	subagents := NewSubagentManager(factory, msgBus)
	cb := NewContextBuilder(ws, "")

	loop := NewAgentLoop(msgBus, factory, settings, sessions, compactor, reg, subagents, cb, policy, redactor)
	return loop, msgBus, sessions
}

func TestProcessDirectSimpleReply(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("hello there")}}
	loop, _, sessions := newTestLoop(t, provider, tools.NewRegistryBuilder().Build())

	got := loop.ProcessDirect(context.Background(), "hi", "direct", "telegram", "42")
	if got != "hello there" {
		t.Errorf("response = %q", got)
	}

	ses := sessions.GetOrCreate("direct")
	if ses.Len() != 2 {
		t.Errorf("session length = %d, want 2 (user + assistant)", ses.Len())
	}
}

func TestToolLoopPersistsToolResults(t *testing.T) {
	echo := &echoTool{result: strings.Repeat("x", 800)}
	reg := tools.NewRegistryBuilder().WithTool(echo).Build()
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		toolCallResponse("echo", map[string]any{"text": "ping"}),
		textResponse("tool said x"),
	}}
	loop, _, sessions := newTestLoop(t, provider, reg)

	got := loop.ProcessDirect(context.Background(), "run echo", "direct", "telegram", "42")
	if got != "tool said x" {
		t.Errorf("response = %q", got)
	}
	if echo.calls != 1 {
		t.Errorf("tool calls = %d, want 1", echo.calls)
	}

	ses := sessions.GetOrCreate("direct")
	ses.Lock()
	msgs := ses.CopyMessages().Messages
	ses.Unlock()

	var toolMsg *schema.Message
	for i := range msgs {
		if msgs[i].Role == "tool" {
			toolMsg = &msgs[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message persisted")
	}
	content, _ := toolMsg.Content.(string)
	if len(content) > toolResultPersistLimit+10 {
		t.Errorf("tool result persisted with %d chars, want <= ~%d", len(content), toolResultPersistLimit)
	}
}

func TestUnknownToolReturnsEnvelope(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		toolCallResponse("does_not_exist", nil),
		textResponse("recovered"),
	}}
	loop, _, _ := newTestLoop(t, provider, tools.NewRegistryBuilder().Build())

	got := loop.ProcessDirect(context.Background(), "go", "direct", "telegram", "42")
	if got != "recovered" {
		t.Errorf("response = %q", got)
	}
}

func TestMaxIterationsCap(t *testing.T) {
	echo := &echoTool{result: "again"}
	reg := tools.NewRegistryBuilder().WithTool(echo).Build()
	// Provider always asks for another tool call.
	responses := make([]schema.LLMResponse, 0, 12)
	for i := 0; i < 12; i++ {
		responses = append(responses, toolCallResponse("echo", nil))
	}
	provider := &scriptedProvider{responses: responses}
	loop, _, _ := newTestLoop(t, provider, reg)

	got := loop.ProcessDirect(context.Background(), "loop forever", "direct", "telegram", "42")
	if !strings.Contains(got, "maximum number of tool iterations") {
		t.Errorf("response = %q", got)
	}
	if echo.calls != 10 {
		t.Errorf("tool calls = %d, want MaxIter (10)", echo.calls)
	}
}

func TestSlashHelp(t *testing.T) {
	provider := &scriptedProvider{}
	loop, _, _ := newTestLoop(t, provider, tools.NewRegistryBuilder().Build())

	got := loop.ProcessDirect(context.Background(), "/help", "direct", "telegram", "42")
	if !strings.Contains(got, "/new") || !strings.Contains(got, "/help") {
		t.Errorf("help text = %q", got)
	}
	if provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0", provider.calls)
	}
}

func TestSlashNewArchivesAndClears(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		textResponse("first reply"),
		textResponse(`{"history_entry": "[now] short chat", "memory_update": "# Memory"}`),
	}}
	loop, _, sessions := newTestLoop(t, provider, tools.NewRegistryBuilder().Build())

	loop.ProcessDirect(context.Background(), "hello", "telegram:42", "telegram", "42")

	got := loop.ProcessDirect(context.Background(), "/new", "telegram:42", "telegram", "42")
	if got != "New session started." {
		t.Errorf("response = %q", got)
	}

	ses := sessions.GetOrCreate("telegram:42")
	if ses.Len() != 0 {
		t.Errorf("session length after /new = %d, want 0", ses.Len())
	}
}

// recordingProvider returns scripted responses and keeps each request's
// message list so tests can inspect the prompts the loop sent.
type recordingProvider struct {
	mu        sync.Mutex
	responses []schema.LLMResponse
	requests  []schema.Messages
}

func (p *recordingProvider) Chat(_ context.Context, msgs schema.Messages, _ []map[string]any, _ schema.ChatOptions) (schema.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, msgs)
	if len(p.responses) == 0 {
		return textResponse("ok"), nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *recordingProvider) DefaultModel() string { return "test-model" }

func TestSlashNewArchivesOnlyUnconsolidatedTail(t *testing.T) {
	consolidation := `{"history_entry": "[now] archived", "memory_update": "# Memory"}`
	provider := &recordingProvider{responses: []schema.LLMResponse{
		textResponse("r1"),
		textResponse("r2"),
		textResponse("r3"),
		textResponse(consolidation), // windowed consolidation
		textResponse(consolidation), // /new archival
	}}

	ws := t.TempDir()
	sessions, err := session.NewManager(ws)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}
	store, err := NewMemoryStore(ws)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	// A large loop window keeps background consolidation out of the way;
	// the compactor itself runs with a window of 4.
	settings := schema.AgentSettings{Model: "test-model", MaxIter: 10, MaxTokens: 1000, Temperature: 0.7, MemoryWindow: 50}
	compactor := NewMemoryCompactor(store, sessions, provider, settings.Model, 4)

	reg := tools.NewRegistryBuilder().Build()
	factory := NewFactory(provider, settings, settings, reg, mcp.NewManager(nil), ws)
	msgBus := bus.NewMessageBus(16)
	redactor := redact.New(redact.Options{})
	policy := redact.NewOutboundPolicy(ws, redactor, false)
	subagents := NewSubagentManager(factory, msgBus)
	loop := NewAgentLoop(msgBus, factory, settings, sessions, compactor, reg, subagents, NewContextBuilder(ws, ""), policy, redactor)

	key := "telegram:42"
	loop.ProcessDirect(context.Background(), "remember the red door", key, "telegram", "42")
	loop.ProcessDirect(context.Background(), "remember the blue gate", key, "telegram", "42")
	loop.ProcessDirect(context.Background(), "remember the green roof", key, "telegram", "42")

	ses := sessions.GetOrCreate(key)
	if err := compactor.CompactNow(context.Background(), ses, false); err != nil {
		t.Fatalf("CompactNow: %v", err)
	}
	ses.Lock()
	ptr := ses.LastConsolidated()
	ses.Unlock()
	if ptr != 4 {
		t.Fatalf("consolidation pointer = %d, want 4", ptr)
	}

	if got := loop.ProcessDirect(context.Background(), "/new", key, "telegram", "42"); got != "New session started." {
		t.Fatalf("response = %q", got)
	}

	provider.mu.Lock()
	last := provider.requests[len(provider.requests)-1]
	provider.mu.Unlock()
	var prompt strings.Builder
	for _, m := range last.Messages {
		if s, ok := m.Content.(string); ok {
			prompt.WriteString(s)
			prompt.WriteString("\n")
		}
	}
	text := prompt.String()
	if strings.Contains(text, "red door") || strings.Contains(text, "blue gate") {
		t.Errorf("archival prompt re-included already-consolidated messages:\n%s", text)
	}
	if !strings.Contains(text, "green roof") {
		t.Errorf("archival prompt missing unconsolidated tail:\n%s", text)
	}
}

func TestSlashNewKeepsSessionOnArchivalFailure(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		textResponse("first reply"),
	}}
	loop, _, sessions := newTestLoop(t, provider, tools.NewRegistryBuilder().Build())

	loop.ProcessDirect(context.Background(), "hello", "telegram:42", "telegram", "42")

	// The next provider call (consolidation) fails.
	provider.mu.Lock()
	provider.err = errors.New("provider down")
	provider.mu.Unlock()

	got := loop.ProcessDirect(context.Background(), "/new", "telegram:42", "telegram", "42")
	if !strings.Contains(got, "kept as-is") {
		t.Errorf("response = %q", got)
	}

	ses := sessions.GetOrCreate("telegram:42")
	if ses.Len() != 2 {
		t.Errorf("session length = %d, want 2 (preserved)", ses.Len())
	}
}

func TestSlashNewOnEmptySession(t *testing.T) {
	provider := &scriptedProvider{}
	loop, _, _ := newTestLoop(t, provider, tools.NewRegistryBuilder().Build())

	got := loop.ProcessDirect(context.Background(), "/new", "telegram:42", "telegram", "42")
	if got != "New session started." {
		t.Errorf("response = %q", got)
	}
	if provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0 (nothing to archive)", provider.calls)
	}
}

func TestMessageToolSuppressesEmptyAutoReply(t *testing.T) {
	reg := tools.NewRegistryBuilder().WithTool(&notifyTool{}).Build()
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		toolCallResponse("message", map[string]any{"content": "hi"}),
		{FinishReason: "stop"}, // nil content, no tool calls
	}}
	loop, msgBus, _ := newTestLoop(t, provider, reg)

	msg := bus.NewInboundMessage("telegram", "u1", "42", "tell me later")
	loop.handleMessage(context.Background(), msg)

	if replies := drainReplies(msgBus); len(replies) != 0 {
		t.Errorf("unexpected outbound auto-reply: %+v", replies)
	}
}

func TestMessageToolKeepsFinalTextReply(t *testing.T) {
	reg := tools.NewRegistryBuilder().WithTool(&notifyTool{}).Build()
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		toolCallResponse("message", map[string]any{"content": "hi"}),
		textResponse("also, done!"),
	}}
	loop, msgBus, _ := newTestLoop(t, provider, reg)

	msg := bus.NewInboundMessage("telegram", "u1", "42", "tell me now")
	loop.handleMessage(context.Background(), msg)

	replies := drainReplies(msgBus)
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	if replies[0].Content != "also, done!" {
		t.Errorf("outbound content = %q", replies[0].Content)
	}
}

func TestCLIEmptySignalWhenSuppressed(t *testing.T) {
	reg := tools.NewRegistryBuilder().WithTool(&notifyTool{}).Build()
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		toolCallResponse("message", map[string]any{"content": "hi"}),
		{FinishReason: "stop"},
	}}
	loop, msgBus, _ := newTestLoop(t, provider, reg)

	msg := bus.NewInboundMessage("cli", "u1", "direct", "go")
	loop.handleMessage(context.Background(), msg)

	replies := drainReplies(msgBus)
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	if replies[0].Content != "" {
		t.Errorf("CLI completion signal content = %q, want empty", replies[0].Content)
	}
}

func TestSystemChannelRoutesToOrigin(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("Your task finished.")}}
	loop, _, sessions := newTestLoop(t, provider, tools.NewRegistryBuilder().Build())

	msg := bus.NewInboundMessage("system", "subagent", "telegram:42", "[Subagent 'x' completed successfully] ...")
	out := loop.routeMessage(context.Background(), msg)

	if out == nil {
		t.Fatal("no outbound")
	}
	if out.Channel != "telegram" || out.ChatID != "42" {
		t.Errorf("routed to %s/%s, want telegram/42", out.Channel, out.ChatID)
	}
	if out.Content != "Your task finished." {
		t.Errorf("content = %q", out.Content)
	}

	ses := sessions.GetOrCreate("telegram:42")
	ses.Lock()
	msgs := ses.CopyMessages().Messages
	ses.Unlock()
	if len(msgs) != 2 {
		t.Fatalf("session length = %d, want 2", len(msgs))
	}
	userContent, _ := msgs[0].Content.(string)
	if !strings.HasPrefix(userContent, "[System: subagent]") {
		t.Errorf("persisted user content = %q", userContent)
	}
}

func TestCronChannelPublishesNothing(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("cron done")}}
	loop, msgBus, _ := newTestLoop(t, provider, tools.NewRegistryBuilder().Build())

	msg := bus.NewInboundMessage("cron", "cron", "job1", "run the report")
	loop.handleMessage(context.Background(), msg)

	select {
	case out := <-msgBus.OutboundChan():
		t.Errorf("unexpected outbound: %+v", out)
	default:
	}
}

func TestLLMErrorReturnsApology(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("boom")}
	loop, _, _ := newTestLoop(t, provider, tools.NewRegistryBuilder().Build())

	got := loop.ProcessDirect(context.Background(), "hi", "direct", "telegram", "42")
	if !strings.Contains(got, "error calling the LLM") {
		t.Errorf("response = %q", got)
	}
}
