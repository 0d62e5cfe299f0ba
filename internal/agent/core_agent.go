package agent

import (
	"context"

	"github.com/ambergull/ambergull/internal/mcp"
	"github.com/ambergull/ambergull/internal/schema"
	"github.com/ambergull/ambergull/internal/tools"
)

// CoreAgent processes a single user-facing request.
// It carries the full tool set (including spawn, message, cron) and uses the
// rich system prompt built from workspace files and memory.
// Constructed per message by AgentFactory.NewCoreAgent().
type CoreAgent struct {
	LoopRunner

	tools      *tools.ToolList // pointer to AgentLoop.tools — picks up MCP-added tools automatically
	mcpManager *mcp.Manager
}

// Execute runs one full agent turn over a fully built conversation
// (system prompt + history + user message). It connects MCP servers on the
// first call (no-op on subsequent calls). The returned Messages is the
// complete conversation including tool turns.
func (a *CoreAgent) Execute(ctx context.Context, conversation schema.Messages, onProgress func(string)) (string, []string, schema.Messages) {
	a.mcpManager.ConnectOnce(ctx, a.tools)

	return a.run(ctx, conversation, a.tools, onProgress)
}
