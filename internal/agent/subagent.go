package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ambergull/ambergull/internal/bus"
	"github.com/ambergull/ambergull/internal/schema"
	"github.com/ambergull/ambergull/internal/shared/llmutils"
	"github.com/ambergull/ambergull/internal/tools"
)

// maxConcurrentSubagents bounds background fan-out.
const maxConcurrentSubagents = 5

// SubagentManager manages background goroutine tasks (subagents).
// Each subagent is constructed via AgentFactory.NewSubAgent() so it carries
// a restricted tool set (no message/spawn/cron tools).
// Implements schema.Spawner.
type SubagentManager struct {
	factory *AgentFactory
	bus     *bus.MessageBus

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewSubagentManager creates a SubagentManager backed by the given factory.
func NewSubagentManager(factory *AgentFactory, msgBus *bus.MessageBus) *SubagentManager {
	return &SubagentManager{
		factory: factory,
		bus:     msgBus,
		running: make(map[string]context.CancelFunc),
	}
}

// RunningCount returns the number of in-flight subagents.
func (sm *SubagentManager) RunningCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.running)
}

// Spawn starts a background subagent goroutine and returns immediately.
func (sm *SubagentManager) Spawn(ctx context.Context, task, label, originChannel, originChatID string) (string, error) {
	taskID := shortID()
	label = llmutils.StringOrDefault(label, task)
	label = llmutils.Truncate(label, 30)

	subctx, cancel := context.WithCancel(context.Background()) // detached from caller

	sm.mu.Lock()
	if len(sm.running) >= maxConcurrentSubagents {
		sm.mu.Unlock()
		cancel()
		return "", fmt.Errorf("too many subagents running (%d); wait for one to finish", maxConcurrentSubagents)
	}
	sm.running[taskID] = cancel
	sm.mu.Unlock()

	go func() {
		defer func() {
			sm.mu.Lock()
			delete(sm.running, taskID)
			sm.mu.Unlock()
			cancel()
		}()
		sm.runSubagent(subctx, taskID, task, label, originChannel, originChatID)
	}()

	slog.Info("Spawned subagent", "id", taskID, "label", label)
	return fmt.Sprintf("Subagent [%s] started (id: %s). I'll notify you when it completes.", label, taskID), nil
}

func (sm *SubagentManager) runSubagent(
	ctx context.Context,
	taskID, task, label, originChannel, originChatID string,
) {
	slog.Info("Subagent starting", "id", taskID, "label", label)

	result, err := sm.executeTask(ctx, task)
	if err != nil {
		result = "Error: " + err.Error()
		slog.Error("Subagent failed", "id", taskID, "err", err)
	} else {
		slog.Info("Subagent completed", "id", taskID)
	}

	status := "completed successfully"
	if err != nil {
		status = "failed"
	}

	sm.announceResult(label, task, result, status, originChannel, originChatID)
}

func (sm *SubagentManager) executeTask(ctx context.Context, task string) (string, error) {
	subAgent := sm.factory.NewSubAgent()

	conversation := schema.NewMessages(
		schema.NewSystemMessage(subAgent.buildSystemPrompt()),
		schema.NewUserMessage(task),
	)

	content, _, _ := subAgent.Execute(ctx, conversation, nil)
	content = llmutils.StringOrDefault(content, "Task completed but no final response was generated.")

	return content, nil
}

// announceResult routes the outcome back through the bus as a system-channel
// inbound message; the main loop summarizes it for the original chat.
func (sm *SubagentManager) announceResult(
	label, task, result, status, originChannel, originChatID string,
) {
	content := fmt.Sprintf(`[Subagent '%s' %s]

Task: %s

Result:
%s

Summarize this naturally for the user. Keep it brief (1-2 sentences). Do not mention technical details like "subagent" or task IDs.`,
		label, status, task, result)

	sm.bus.PublishInbound(
		bus.NewInboundMessage(string(bus.ChannelSystem), "subagent", originChannel+":"+originChatID, content),
	)
}

// shortID generates a short pseudo-unique ID (first 8 hex chars of the clock).
func shortID() string {
	return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
}

// SubAgent handles a single background task.
// It carries a restricted tool set (no spawn/message/cron) and starts fresh
// with no session history.
// Constructed per spawn call by AgentFactory.NewSubAgent().
type SubAgent struct {
	LoopRunner
	tools     *tools.ToolList // restricted registry snapshot — no MCP tools
	workspace string
}

// Execute runs the task conversation to completion.
func (a *SubAgent) Execute(ctx context.Context, conversation schema.Messages, onProgress func(string)) (string, []string, schema.Messages) {
	return a.run(ctx, conversation, a.tools, onProgress)
}

func (a *SubAgent) buildSystemPrompt() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	tz, _ := time.Now().Zone()
	if tz == "" {
		tz = "UTC"
	}

	ws := expandHome(a.workspace)

	goos := runtime.GOOS
	if goos == "darwin" {
		goos = "macOS"
	}

	return strings.Join([]string{
		"# Subagent",
		"",
		"## Current Time",
		now + " (" + tz + ")",
		"",
		"You are a subagent spawned by the main agent to complete a specific task.",
		"",
		"## Rules",
		"1. Stay focused - complete only the assigned task, nothing else",
		"2. Your final response will be reported back to the main agent",
		"3. Do not initiate conversations or take on side tasks",
		"4. Be concise but informative in your findings",
		"",
		"## What You Can Do",
		"- Read and write files in the workspace",
		"- Execute shell commands",
		"- Search the web and fetch web pages",
		"- Complete the task thoroughly",
		"",
		"## What You Cannot Do",
		"- Send messages directly to users (no message tool available)",
		"- Spawn other subagents",
		"- Access the main agent's conversation history",
		"",
		"## Workspace",
		"Your workspace is at: " + ws,
		"Skills are available at: " + ws + "/skills/ (read SKILL.md files as needed)",
		"OS: " + goos + " " + runtime.GOARCH,
		"",
		"When you have completed the task, provide a clear summary of your findings or actions.",
	}, "\n")
}
