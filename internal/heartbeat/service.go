// Package heartbeat periodically reviews HEARTBEAT.md and lets the model
// decide whether a background agent turn is worth running.
package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ambergull/ambergull/internal/schema"
)

// AgentRunner processes a direct agent turn outside the bus.
// Implemented by agent.AgentLoop.
type AgentRunner interface {
	ProcessDirect(ctx context.Context, content, sessionKey, channel, chatID string) string
}

// decisionTool is the pseudo-tool schema the decision call forces the model
// through: either run with concrete tasks, or skip.
var decisionTool = []map[string]any{{
	"type": "function",
	"function": map[string]any{
		"name":        "heartbeat_decision",
		"description": "Decide whether the heartbeat tasks need attention right now.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type": "string",
					"enum": []string{"run", "skip"},
				},
				"tasks": map[string]any{
					"type":        "string",
					"description": "When action is run: the concrete tasks to perform this cycle.",
				},
			},
			"required": []string{"action"},
		},
	},
}}

// Service runs a periodic two-phase heartbeat: a cheap LLM decision call over
// HEARTBEAT.md, then a full agent turn only when the model answers "run".
type Service struct {
	workspace string
	interval  time.Duration
	provider  schema.LLMProvider
	model     string
	agent     AgentRunner

	started atomic.Bool
}

// NewService creates a heartbeat Service.
// interval defaults to 30 minutes if zero.
func NewService(workspace string, provider schema.LLMProvider, model string, agent AgentRunner, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Service{
		workspace: workspace,
		interval:  interval,
		provider:  provider,
		model:     model,
		agent:     agent,
	}
}

// Start runs the heartbeat loop until ctx is cancelled. Calling Start while
// the loop is already running is a no-op returning nil.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	defer s.started.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("heartbeat: started", "interval", s.interval)

	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-ctx.Done():
			slog.Info("heartbeat: stopped")
			return ctx.Err()
		}
	}
}

func (s *Service) check(ctx context.Context) {
	path := filepath.Join(s.workspace, "HEARTBEAT.md")
	data, err := os.ReadFile(path)
	if err != nil {
		// File not found is normal — no heartbeat configured.
		return
	}

	content := string(data)
	if !hasActiveTasks(content) {
		return
	}

	action, tasks := s.decide(ctx, content)
	if action != "run" || tasks == "" {
		slog.Debug("heartbeat: model skipped this cycle")
		return
	}

	slog.Info("heartbeat: running tasks")
	s.agent.ProcessDirect(ctx, tasks, "heartbeat:main", "heartbeat", "heartbeat")
}

// decide asks the model whether this cycle needs work. Any provider error or
// missing tool call counts as skip.
func (s *Service) decide(ctx context.Context, heartbeatContent string) (action, tasks string) {
	messages := schema.NewMessages(
		schema.NewSystemMessage("You decide whether periodic background tasks need attention. "+
			"Call heartbeat_decision with action=run and the tasks to perform, or action=skip if nothing is due."),
		schema.NewUserMessage("Current HEARTBEAT.md:\n\n"+heartbeatContent),
	)

	resp, err := s.provider.Chat(ctx, messages, decisionTool, schema.NewChatOptions(s.model, 1024, 0.1))
	if err != nil {
		slog.Warn("heartbeat: decision call failed", "err", err)
		return "skip", ""
	}
	for _, tc := range resp.ToolCalls {
		if tc.Name != "heartbeat_decision" {
			continue
		}
		action, _ = tc.Arguments["action"].(string)
		tasks, _ = tc.Arguments["tasks"].(string)
		return action, tasks
	}
	return "skip", ""
}

// hasActiveTasks reports whether HEARTBEAT.md has at least one line that is
// not a comment, heading, blank line, or unchecked checkbox.
func hasActiveTasks(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "<!--") {
			continue
		}
		if strings.HasPrefix(trimmed, "- [ ]") {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		return true
	}
	return false
}
