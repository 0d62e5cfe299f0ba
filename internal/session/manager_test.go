package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ambergull/ambergull/internal/schema"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ws := t.TempDir()
	m, err := NewManager(ws)
	if err != nil {
		t.Fatal(err)
	}

	s := m.GetOrCreate("telegram:42")
	s.AddUser("hello")
	s.AddAssistant("hi there", []string{"read_file"})
	s.Lock()
	s.SetLastConsolidated(1)
	s.Unlock()

	if err := m.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Force a disk read.
	m.Invalidate("telegram:42")
	loaded := m.GetOrCreate("telegram:42")

	if loaded.Len() != 2 {
		t.Fatalf("loaded %d messages, want 2", loaded.Len())
	}
	msgs := loaded.GetHistory(0).Messages
	if msgs[0].Role != "user" || msgs[0].Content != "hello" {
		t.Errorf("message 0 = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" {
		t.Errorf("message 1 role = %q", msgs[1].Role)
	}
	if len(msgs[1].ToolsUsed) != 1 || msgs[1].ToolsUsed[0] != "read_file" {
		t.Errorf("tools_used not restored: %v", msgs[1].ToolsUsed)
	}

	loaded.Lock()
	lc := loaded.LastConsolidated()
	loaded.Unlock()
	if lc != 1 {
		t.Errorf("last_consolidated = %d, want 1", lc)
	}
}

func TestToolCallRoundTrip(t *testing.T) {
	ws := t.TempDir()
	m, err := NewManager(ws)
	if err != nil {
		t.Fatal(err)
	}

	s := m.GetOrCreate("cli:direct")
	content := "checking"
	s.Lock()
	s.Messages.AddAssistant(&content, []schema.ToolCall{
		{ID: "call_1", Name: "exec", Arguments: map[string]any{"command": "ls"}},
	}, nil)
	s.Messages.AddToolResult("call_1", "exec", "file.txt")
	s.Unlock()

	if err := m.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	m.Invalidate("cli:direct")

	loaded := m.GetOrCreate("cli:direct")
	msgs := loaded.GetHistory(0).Messages
	if len(msgs) != 2 {
		t.Fatalf("loaded %d messages, want 2", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 1 {
		t.Fatalf("tool calls not restored: %+v", msgs[0])
	}
	tc := msgs[0].ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "exec" {
		t.Errorf("tool call = %+v", tc)
	}
	if cmd, _ := tc.Arguments["command"].(string); cmd != "ls" {
		t.Errorf("arguments not restored: %v", tc.Arguments)
	}
	if msgs[1].Role != "tool" || msgs[1].ToolCallID != "call_1" || msgs[1].ToolName != "exec" {
		t.Errorf("tool result = %+v", msgs[1])
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	ws := t.TempDir()
	m, err := NewManager(ws)
	if err != nil {
		t.Fatal(err)
	}

	s := m.GetOrCreate("cli:direct")
	s.AddUser("ping")
	if err := m.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(ws, "sessions"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSessionKeyToFilename(t *testing.T) {
	m := &Manager{sessionsDir: "/s"}
	got := m.sessionPath(`telegram:4?2`)
	want := filepath.Join("/s", "telegram_4_2.jsonl")
	if got != want {
		t.Errorf("sessionPath = %q, want %q", got, want)
	}
}

func TestCompactResetsConsolidationPointer(t *testing.T) {
	s := NewArchivedSession("x", schema.NewMessages(
		schema.NewUserMessage("1"),
		schema.NewUserMessage("2"),
		schema.NewUserMessage("3"),
		schema.NewUserMessage("4"),
	))
	s.Lock()
	s.SetLastConsolidated(2)
	s.Unlock()

	s.Compact(2)

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	s.Lock()
	defer s.Unlock()
	if s.LastConsolidated() != 0 {
		t.Errorf("LastConsolidated = %d, want 0", s.LastConsolidated())
	}
	if s.Messages.Messages[0].Content != "3" {
		t.Errorf("wrong tail kept: %+v", s.Messages.Messages)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	ws := t.TempDir()
	m, err := NewManager(ws)
	if err != nil {
		t.Fatal(err)
	}

	a := m.GetOrCreate("cli:a")
	a.AddUser("old")
	if err := m.Save(a); err != nil {
		t.Fatal(err)
	}
	b := m.GetOrCreate("cli:b")
	b.AddUser("new")
	if err := m.Save(b); err != nil {
		t.Fatal(err)
	}

	list := m.ListSessions()
	if len(list) != 2 {
		t.Fatalf("ListSessions returned %d entries, want 2", len(list))
	}
	for _, entry := range list {
		key, _ := entry["key"].(string)
		if key != "cli:a" && key != "cli:b" {
			t.Errorf("unexpected key %q", key)
		}
	}
}
