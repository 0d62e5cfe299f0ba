// Package agent contains the core agent loop and its supporting components.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ambergull/ambergull/internal/schema"
	"github.com/ambergull/ambergull/internal/tools"
)

// MemoryStore manages long-term memory under workspace/memory/:
// MEMORY.md holds the current summary (overwritten on update), HISTORY.md is
// an append-only timestamped log. Implements schema.MemoryStore.
type MemoryStore struct {
	memoryDir   string
	memoryFile  string
	historyFile string
}

// NewMemoryStore creates the store and its directory.
func NewMemoryStore(workspace string) (*MemoryStore, error) {
	dir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &MemoryStore{
		memoryDir:   dir,
		memoryFile:  filepath.Join(dir, "MEMORY.md"),
		historyFile: filepath.Join(dir, "HISTORY.md"),
	}, nil
}

// ReadLongTerm returns the current long-term memory, or "".
func (m *MemoryStore) ReadLongTerm() string {
	data, err := os.ReadFile(m.memoryFile)
	if err != nil {
		return ""
	}
	return string(data)
}

// WriteLongTerm overwrites MEMORY.md.
func (m *MemoryStore) WriteLongTerm(content string) error {
	return os.WriteFile(m.memoryFile, []byte(content), 0o644)
}

// AppendHistory appends one entry to HISTORY.md.
func (m *MemoryStore) AppendHistory(entry string) error {
	f, err := os.OpenFile(m.historyFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strings.TrimRight(entry, "\n") + "\n")
	return err
}

// GetMemoryContext returns the memory section for the system prompt.
func (m *MemoryStore) GetMemoryContext() string {
	return strings.TrimSpace(m.ReadLongTerm())
}

// consolidationResult is the JSON object the consolidation prompt asks for.
type consolidationResult struct {
	HistoryEntry string `json:"history_entry"`
	MemoryUpdate string `json:"memory_update"`
}

// Consolidate summarises archived session messages into MEMORY.md and
// HISTORY.md with a single LLM call, then advances the session's
// consolidation pointer and persists it.
//
// With archiveAll the whole unconsolidated tail is processed (used on /new);
// otherwise only messages[lastConsolidated : len-keep] where
// keep = max(2, memoryWindow/2). A failed or unparseable LLM response leaves
// the session untouched.
func (m *MemoryStore) Consolidate(
	ctx context.Context,
	s schema.ConsolidatableSession,
	saver schema.SessionSaver,
	provider schema.LLMProvider,
	model string,
	archiveAll bool,
	memoryWindow int,
) error {
	keep := memoryWindow / 2
	if keep < 2 {
		keep = 2
	}

	s.Lock()
	msgs := s.CopyMessages()
	last := s.LastConsolidated()
	s.Unlock()

	total := len(msgs.Messages)
	cut := total - keep
	if archiveAll {
		cut = total
	}
	if cut <= last {
		return nil
	}

	old := schema.Messages{Messages: msgs.Messages[last:cut]}
	result, err := m.summarize(ctx, provider, model, old)
	if err != nil {
		return err
	}

	saveTool := tools.NewSaveMemoryTool(m)
	args := map[string]any{
		"history_entry": result.HistoryEntry,
		"memory_update": result.MemoryUpdate,
	}
	if _, err := saveTool.Execute(ctx, args); err != nil {
		return err
	}

	s.Lock()
	if archiveAll {
		s.SetLastConsolidated(0)
	} else {
		s.SetLastConsolidated(cut)
	}
	s.Unlock()

	if err := saver.SaveConsolidated(s); err != nil {
		slog.Warn("memory consolidation: failed to persist session pointer", "err", err)
	}
	slog.Info("memory consolidation done", "messages", cut-last, "archive_all", archiveAll)
	return nil
}

// summarize asks the LLM for the consolidation JSON and parses it leniently.
func (m *MemoryStore) summarize(ctx context.Context, provider schema.LLMProvider, model string, old schema.Messages) (*consolidationResult, error) {
	current := m.ReadLongTerm()
	if current == "" {
		current = "(empty)"
	}

	now := time.Now().Format("2006-01-02 15:04")
	prompt := fmt.Sprintf(
		"Consolidate this conversation into memory. Respond with raw JSON only, no prose:\n"+
			"{\"history_entry\": string, \"memory_update\": string}\n\n"+
			"- history_entry: a paragraph (2-5 sentences) summarizing key events/decisions/topics, "+
			"starting with [%s]. Include detail useful for grep search.\n"+
			"- memory_update: the full updated long-term memory as markdown, all existing facts plus "+
			"new ones. Return it unchanged if nothing new.\n"+
			"Both values MUST be strings.\n\n"+
			"## Current Long-term Memory\n%s\n\n"+
			"## Conversation to Process\n%s",
		now, current, formatMessagesForPrompt(old.Messages),
	)

	messages := schema.NewMessages(
		schema.NewSystemMessage("You are a memory consolidation agent. Respond with the requested JSON object and nothing else."),
		schema.NewUserMessage(prompt),
	)

	resp, err := provider.Chat(ctx, messages, nil, schema.NewChatOptions(model, 4096, 0.3))
	if err != nil {
		return nil, fmt.Errorf("consolidation LLM call: %w", err)
	}
	content := ""
	if resp.Content != nil {
		content = *resp.Content
	}
	return parseConsolidation(content)
}

// parseConsolidation extracts the consolidation JSON, tolerating a leading
// code fence.
func parseConsolidation(raw string) (*consolidationResult, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	var probe map[string]any
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return nil, fmt.Errorf("consolidation response is not valid JSON: %w", err)
	}
	entry, ok := probe["history_entry"].(string)
	if !ok {
		return nil, fmt.Errorf("consolidation history_entry is not a string")
	}
	update, ok := probe["memory_update"].(string)
	if !ok {
		return nil, fmt.Errorf("consolidation memory_update is not a string")
	}
	return &consolidationResult{HistoryEntry: entry, MemoryUpdate: update}, nil
}

// formatMessagesForPrompt renders messages into labelled lines for the
// consolidation prompt.
func formatMessagesForPrompt(msgs []schema.Message) string {
	var lines []string
	for _, msg := range msgs {
		content := ""
		switch v := msg.Content.(type) {
		case string:
			content = v
		case *string:
			if v != nil {
				content = *v
			}
		}
		if content == "" {
			continue
		}
		toolsStr := ""
		if len(msg.ToolsUsed) > 0 {
			toolsStr = " [tools: " + strings.Join(msg.ToolsUsed, ", ") + "]"
		}
		lines = append(lines, fmt.Sprintf("%s%s: %s", strings.ToUpper(msg.Role), toolsStr, content))
	}
	return strings.Join(lines, "\n")
}
