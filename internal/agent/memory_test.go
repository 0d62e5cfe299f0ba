package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ambergull/ambergull/internal/schema"
	"github.com/ambergull/ambergull/internal/session"
)

// scriptedProvider returns pre-programmed responses in order, or a fixed error.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []schema.LLMResponse
	err       error
	calls     int
}

func (p *scriptedProvider) Chat(_ context.Context, _ schema.Messages, _ []map[string]any, _ schema.ChatOptions) (schema.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return schema.LLMResponse{}, p.err
	}
	if len(p.responses) == 0 {
		return textResponse("ok"), nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func textResponse(s string) schema.LLMResponse {
	return schema.LLMResponse{Content: &s, FinishReason: "stop"}
}

type recordingSaver struct {
	saved int
}

func (r *recordingSaver) SaveConsolidated(schema.ConsolidatableSession) error {
	r.saved++
	return nil
}

func TestMemoryStoreReadWrite(t *testing.T) {
	store, err := NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	if got := store.ReadLongTerm(); got != "" {
		t.Errorf("empty store ReadLongTerm = %q", got)
	}
	if err := store.WriteLongTerm("# Facts\n- likes tea\n"); err != nil {
		t.Fatalf("WriteLongTerm: %v", err)
	}
	if got := store.ReadLongTerm(); !strings.Contains(got, "likes tea") {
		t.Errorf("ReadLongTerm = %q", got)
	}
}

func TestMemoryStoreAppendHistory(t *testing.T) {
	ws := t.TempDir()
	store, err := NewMemoryStore(ws)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	if err := store.AppendHistory("[2026-08-24] first entry"); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if err := store.AppendHistory("[2026-08-24] second entry"); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(ws, "memory", "HISTORY.md"))
	if err != nil {
		t.Fatalf("read HISTORY.md: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("history lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[1], "second entry") {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestParseConsolidation(t *testing.T) {
	raw := `{"history_entry": "[2026-08-24] talked about cats", "memory_update": "# Memory\n- has a cat"}`
	res, err := parseConsolidation(raw)
	if err != nil {
		t.Fatalf("parseConsolidation: %v", err)
	}
	if !strings.Contains(res.HistoryEntry, "cats") || !strings.Contains(res.MemoryUpdate, "cat") {
		t.Errorf("result = %+v", res)
	}
}

func TestParseConsolidationCodeFence(t *testing.T) {
	raw := "```json\n{\"history_entry\": \"e\", \"memory_update\": \"m\"}\n```"
	res, err := parseConsolidation(raw)
	if err != nil {
		t.Fatalf("parseConsolidation: %v", err)
	}
	if res.HistoryEntry != "e" || res.MemoryUpdate != "m" {
		t.Errorf("result = %+v", res)
	}
}

func TestParseConsolidationRejectsMalformed(t *testing.T) {
	cases := []string{
		"not json at all",
		`{"history_entry": 42, "memory_update": "m"}`,
		`{"history_entry": "e", "memory_update": {"nested": true}}`,
		`{"history_entry": "e"}`,
	}
	for _, raw := range cases {
		if _, err := parseConsolidation(raw); err == nil {
			t.Errorf("parseConsolidation(%q) succeeded, want error", raw)
		}
	}
}

func consolidatableSession(n int) *session.Session {
	msgs := schema.NewMessages()
	for i := 0; i < n; i++ {
		msgs.AddUser("question")
		msgs.AddAssistant(ptrTo("answer"), nil, nil)
	}
	return session.NewArchivedSession("test:archive", msgs)
}

func ptrTo[T any](v T) *T { return &v }

func TestConsolidateWritesMemoryAndAdvancesPointer(t *testing.T) {
	ws := t.TempDir()
	store, _ := NewMemoryStore(ws)
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		textResponse(`{"history_entry": "[now] chatted", "memory_update": "# Memory\n- fact"}`),
	}}
	saver := &recordingSaver{}
	sess := consolidatableSession(10) // 20 messages

	err := store.Consolidate(context.Background(), sess, saver, provider, "m", false, 10)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	if got := store.ReadLongTerm(); !strings.Contains(got, "- fact") {
		t.Errorf("MEMORY.md = %q", got)
	}
	hist, _ := os.ReadFile(filepath.Join(ws, "memory", "HISTORY.md"))
	if !strings.Contains(string(hist), "chatted") {
		t.Errorf("HISTORY.md = %q", hist)
	}

	sess.Lock()
	last := sess.LastConsolidated()
	sess.Unlock()
	// keep = max(2, 10/2) = 5, so the pointer lands at 20-5.
	if last != 15 {
		t.Errorf("lastConsolidated = %d, want 15", last)
	}
	if saver.saved != 1 {
		t.Errorf("saver calls = %d, want 1", saver.saved)
	}
}

func TestConsolidateArchiveAllProcessesFullTail(t *testing.T) {
	ws := t.TempDir()
	store, _ := NewMemoryStore(ws)
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		textResponse(`{"history_entry": "[now] archived", "memory_update": "# Memory"}`),
	}}
	sess := consolidatableSession(2)

	err := store.Consolidate(context.Background(), sess, &recordingSaver{}, provider, "m", true, 10)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	hist, _ := os.ReadFile(filepath.Join(ws, "memory", "HISTORY.md"))
	if !strings.Contains(string(hist), "archived") {
		t.Errorf("HISTORY.md = %q", hist)
	}
}

func TestConsolidateNoopWhenNothingToDo(t *testing.T) {
	store, _ := NewMemoryStore(t.TempDir())
	provider := &scriptedProvider{}
	sess := consolidatableSession(2) // 4 messages, keep 5 -> cut <= last

	if err := store.Consolidate(context.Background(), sess, &recordingSaver{}, provider, "m", false, 10); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0", provider.calls)
	}
}

func TestConsolidateLLMFailureLeavesSessionUntouched(t *testing.T) {
	ws := t.TempDir()
	store, _ := NewMemoryStore(ws)
	provider := &scriptedProvider{err: errors.New("provider down")}
	saver := &recordingSaver{}
	sess := consolidatableSession(10)

	if err := store.Consolidate(context.Background(), sess, saver, provider, "m", false, 10); err == nil {
		t.Fatal("expected error")
	}
	sess.Lock()
	last := sess.LastConsolidated()
	sess.Unlock()
	if last != 0 {
		t.Errorf("lastConsolidated = %d, want 0", last)
	}
	if saver.saved != 0 {
		t.Errorf("saver calls = %d, want 0", saver.saved)
	}
	if store.ReadLongTerm() != "" {
		t.Error("MEMORY.md written despite failure")
	}
}

func TestConsolidateBadJSONLeavesSessionUntouched(t *testing.T) {
	store, _ := NewMemoryStore(t.TempDir())
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		textResponse("Sure! Here is the summary you asked for."),
	}}
	sess := consolidatableSession(10)

	if err := store.Consolidate(context.Background(), sess, &recordingSaver{}, provider, "m", false, 10); err == nil {
		t.Fatal("expected parse error")
	}
	sess.Lock()
	defer sess.Unlock()
	if sess.LastConsolidated() != 0 {
		t.Errorf("lastConsolidated = %d, want 0", sess.LastConsolidated())
	}
}
