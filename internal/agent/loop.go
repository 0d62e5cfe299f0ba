package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ambergull/ambergull/internal/bus"
	"github.com/ambergull/ambergull/internal/redact"
	"github.com/ambergull/ambergull/internal/schema"
	"github.com/ambergull/ambergull/internal/session"
	"github.com/ambergull/ambergull/internal/shared/llmutils"
	"github.com/ambergull/ambergull/internal/tools"
)

// toolResultPersistLimit caps how much tool output is kept in the session.
const toolResultPersistLimit = 500

// AgentLoop is the core processing engine.
//
// It is the single consumer of the inbound bus: messages are processed one at
// a time so tool side effects and session writes stay ordered. Each message
// is routed to a channel-kind handler and the reply is published outbound.
type AgentLoop struct {
	bus      *bus.MessageBus
	settings schema.AgentSettings

	contextBuilder *ContextBuilder
	sessions       *session.Manager
	compactor      *MemoryCompactor
	tools          *tools.ToolList // MCP registration target; factory holds the same pointer
	subagents      *SubagentManager
	policy         *redact.OutboundPolicy
	redactor       *redact.Redactor

	runner  LoopRunner    // shared LLM iteration logic (used by handleSystemChannel)
	factory *AgentFactory // creates per-request CoreAgent / SubAgent instances
}

// NewAgentLoop creates an AgentLoop with the supplied factory, tool registry,
// and subagent manager.
func NewAgentLoop(
	msgBus *bus.MessageBus,
	factory *AgentFactory,
	settings schema.AgentSettings,
	sessions *session.Manager,
	compactor *MemoryCompactor,
	registry *tools.Registry,
	subagents *SubagentManager,
	contextBuilder *ContextBuilder,
	policy *redact.OutboundPolicy,
	redactor *redact.Redactor,
) *AgentLoop {
	loop := &AgentLoop{
		bus:            msgBus,
		settings:       settings,
		contextBuilder: contextBuilder,
		sessions:       sessions,
		compactor:      compactor,
		tools:          registry.AllTools(),
		subagents:      subagents,
		policy:         policy,
		redactor:       redactor,
		runner:         newLoopRunner(factory.provider, settings),
		factory:        factory,
	}
	// Wire the factory's coreTools pointer to this loop's live ToolList so that
	// MCP tools added via ConnectOnce are visible to every CoreAgent created by
	// the factory.
	factory.SetCoreTools(loop.tools)
	return loop
}

// Tools exposes the live tool list (including MCP additions) so external
// schedulers can execute tool_call payloads through the same envelope.
func (loop *AgentLoop) Tools() *tools.ToolList { return loop.tools }

// Run consumes the inbound bus until ctx is cancelled. Messages are handled
// strictly in arrival order; a long turn delays the next message rather than
// interleaving with it.
func (loop *AgentLoop) Run(ctx context.Context) error {
	slog.Info("Agent loop started")

	for {
		select {
		case msg := <-loop.bus.InboundChan():
			loop.handleMessage(ctx, msg)
		case <-ctx.Done():
			slog.Info("Agent loop stopping")
			loop.factory.Close()
			return ctx.Err()
		}
	}
}

// ProcessDirect handles a message outside the bus (CLI, cron, heartbeat).
// Returns the final text response.
func (loop *AgentLoop) ProcessDirect(ctx context.Context, content, sessKey, channel, chatID string) string {
	msg := bus.NewInboundMessage(channel, "user", chatID, content)
	msg.SessionKeyOverride = sessKey
	res := loop.routeMessage(ctx, msg)
	if res == nil {
		return ""
	}

	return res.Content
}

func (loop *AgentLoop) handleMessage(ctx context.Context, msg bus.InboundMessage) {
	resp := loop.routeMessage(ctx, msg)

	if resp != nil {
		loop.bus.PublishOutbound(*resp)
	} else if bus.ChannelType(msg.Channel) == bus.ChannelCLI {
		// Signal CLI that we're done even when the message tool was used.
		out := bus.NewOutboundMessage(msg.Channel, msg.ChatID, "")
		out.Metadata = msg.Metadata
		loop.bus.PublishOutbound(out)
	}
}

// routeMessage dispatches msg to the appropriate channel-kind handler.
func (loop *AgentLoop) routeMessage(ctx context.Context, msg bus.InboundMessage) *bus.OutboundMessage {
	switch bus.ChannelType(msg.Channel) {
	case bus.ChannelSystem:
		return loop.handleSystemChannel(ctx, msg)
	case bus.ChannelCron, bus.ChannelHeartbeat:
		// These normally arrive via ProcessDirect; if one lands on the bus the
		// pipeline runs but nothing is published.
		loop.handleExternalChannel(ctx, msg)
		return nil
	default:
		return loop.handleExternalChannel(ctx, msg)
	}
}

// handleSystemChannel processes system-channel messages injected by subagents
// and other internal sources. It parses the original channel/chat from
// msg.ChatID, runs one LLM turn, and routes the reply to the original chat.
func (loop *AgentLoop) handleSystemChannel(ctx context.Context, msg bus.InboundMessage) *bus.OutboundMessage {
	channel, chatID, _ := strings.Cut(msg.ChatID, ":")
	if chatID == "" {
		channel = string(bus.ChannelCLI)
		chatID = msg.ChatID
	}

	slog.Info("Processing system message", "sender", msg.SenderID)

	key := channel + ":" + chatID
	ses := loop.sessions.GetOrCreate(key)

	ctx = tools.WithTurn(ctx, tools.TurnContext{Channel: channel, ChatID: chatID})

	conversation := loop.contextBuilder.BuildMessages(
		ses.GetHistory(loop.settings.MemoryWindow),
		msg.Content,
		nil,
		channel,
		chatID,
	)
	prefixLen := len(conversation.Messages)

	final, toolsUsed, conv := loop.runner.run(ctx, conversation, loop.tools, nil)
	final = llmutils.StringOrDefault(final, "Background task completed.")

	userContent := fmt.Sprintf("[System: %s] %s", msg.SenderID, msg.Content)
	loop.persistTurn(ses, userContent, final, toolsUsed, conv.Messages[prefixLen:], true)

	out := bus.NewOutboundMessage(channel, chatID, loop.policy.RedactText(final))
	return &out
}

// handleExternalChannel processes messages from external chat platforms and
// the CLI. It runs slash commands, memory consolidation checks, the full LLM
// loop, persists the turn, and returns an OutboundMessage — or nil if the
// message tool already delivered the reply.
func (loop *AgentLoop) handleExternalChannel(ctx context.Context, msg bus.InboundMessage) *bus.OutboundMessage {
	slog.Info(
		"Processing message",
		"sender", msg.SenderID,
		"channel", msg.Channel,
		"content", llmutils.Truncate(msg.Content, 80),
	)

	key := msg.SessionKey()
	ses := loop.sessions.GetOrCreate(key)

	if resp := loop.handleSlashCommand(msg, ses, key); resp != nil {
		return resp
	}

	loop.maybeConsolidate(key, ses)

	effectiveMedia := loop.carryOverImage(msg, ses)

	ctx, msgSentChan := loop.withTurnContext(ctx, msg)

	conversation := loop.contextBuilder.BuildMessages(
		ses.GetHistory(loop.settings.MemoryWindow),
		msg.Content,
		effectiveMedia,
		msg.Channel,
		msg.ChatID,
	)
	prefixLen := len(conversation.Messages)

	coreAgent := loop.factory.NewCoreAgent()
	final, toolsUsed, conv := coreAgent.Execute(ctx, conversation, loop.makeProgressCallback(msg))

	slog.Info("Response", "channel", msg.Channel, "sender", msg.SenderID, "length", len(final))

	loop.persistTurn(ses, msg.Content, final, toolsUsed, conv.Messages[prefixLen:], false)

	// If the message tool sent something and the model produced no closing
	// text, the reply has already been delivered.
	select {
	case <-msgSentChan:
		if final == "" {
			return nil
		}
	default:
	}

	if final == "" {
		final = "I've completed processing but have no response to give."
	}

	out := bus.NewOutboundMessage(msg.Channel, msg.ChatID, loop.policy.RedactText(final))
	out.Metadata = msg.Metadata
	return &out
}

// maybeConsolidate schedules background memory consolidation when enough
// unconsolidated messages have accumulated and no run is already in flight.
func (loop *AgentLoop) maybeConsolidate(key string, ses *session.Session) {
	window := loop.settings.MemoryWindow
	if window <= 0 || loop.compactor == nil {
		return
	}

	ses.Lock()
	pending := len(ses.Messages.Messages) - ses.LastConsolidated()
	ses.Unlock()

	if pending >= window && !loop.compactor.InFlight(key) {
		loop.compactor.Schedule(key, ses, false)
	}
}

// carryOverImage implements the recent-image follow-up: a freshly received
// image is remembered for two turns, and a text-only follow-up re-attaches it.
func (loop *AgentLoop) carryOverImage(msg bus.InboundMessage, ses *session.Session) []string {
	if ses.Metadata == nil {
		ses.Metadata = map[string]any{}
	}
	if img := redact.ExtractLatestImage(msg.Media); img != "" {
		redact.RememberRecentImage(ses.Metadata, img)
		return msg.Media
	}
	if len(msg.Media) == 0 {
		if p := redact.ConsumeRecentImage(ses.Metadata); p != "" {
			return []string{p}
		}
	}
	return msg.Media
}

// persistTurn appends the turn's messages to the session and saves it.
// Tool results are truncated, and assistant/tool text is run through the
// redactor so secrets never reach the session files. systemOriginated marks
// user content that was injected by the system rather than typed by a person.
func (loop *AgentLoop) persistTurn(
	ses *session.Session,
	userContent, final string,
	toolsUsed []string,
	turnMessages []schema.Message,
	systemOriginated bool,
) {
	if systemOriginated {
		userContent = loop.redactText(userContent)
	}
	ses.AddUser(userContent)

	var mid []schema.Message
	for _, m := range turnMessages {
		switch m.Role {
		case "assistant":
			if s, ok := m.Content.(*string); ok && s != nil {
				clean := loop.redactText(*s)
				m.Content = &clean
			}
		case "tool":
			if s, ok := m.Content.(string); ok {
				m.Content = loop.redactText(llmutils.Truncate(s, toolResultPersistLimit))
			}
		}
		mid = append(mid, m)
	}
	ses.Append(mid)

	ses.AddAssistant(loop.redactText(final), toolsUsed)

	if err := loop.sessions.Save(ses); err != nil {
		slog.Error("failed to save session", "key", ses.Key, "err", err)
	}
}

func (loop *AgentLoop) redactText(s string) string {
	if loop.redactor == nil {
		return s
	}
	return loop.redactor.Redact(s)
}

// handleSlashCommand checks msg.Content for a known slash command and handles
// it. Returns non-nil if the command was handled (caller should return early).
func (loop *AgentLoop) handleSlashCommand(
	msg bus.InboundMessage,
	ses *session.Session,
	key string,
) *bus.OutboundMessage {
	cmd := strings.TrimSpace(strings.ToLower(msg.Content))
	switch cmd {
	case "/new":
		return loop.handleCmdNew(msg, ses, key)
	case "/help":
		return loop.handleCmdHelp(msg)
	}
	return nil
}

// handleCmdNew archives the current session synchronously, then clears it.
// Only messages past the consolidation pointer are archived; anything before
// it is already in HISTORY.md. When archival fails the session is left intact
// so nothing is lost.
func (loop *AgentLoop) handleCmdNew(msg bus.InboundMessage, ses *session.Session, key string) *bus.OutboundMessage {
	ses.Lock()
	archived := ses.CopyMessages()
	last := ses.LastConsolidated()
	ses.Unlock()

	if last > 0 && last <= len(archived.Messages) {
		archived.Messages = archived.Messages[last:]
	}

	if len(archived.Messages) > 0 && loop.compactor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		tmp := session.NewArchivedSession(key+":archive", archived)
		if err := loop.compactor.CompactNow(ctx, tmp, true); err != nil {
			slog.Error("session archival failed", "key", key, "err", err)
			out := bus.NewOutboundMessage(msg.Channel, msg.ChatID,
				"Could not archive the session, so it was kept as-is. Try /new again in a moment.")
			out.Metadata = msg.Metadata
			return &out
		}
	}

	ses.Clear()
	if err := loop.sessions.Save(ses); err != nil {
		slog.Error("failed to save cleared session", "key", key, "err", err)
	}
	loop.sessions.Invalidate(key)

	out := bus.NewOutboundMessage(msg.Channel, msg.ChatID, "New session started.")
	out.Metadata = msg.Metadata

	return &out
}

// handleCmdHelp returns the help text listing available slash commands.
func (loop *AgentLoop) handleCmdHelp(msg bus.InboundMessage) *bus.OutboundMessage {
	out := bus.NewOutboundMessage(msg.Channel, msg.ChatID, "ambergull commands:\n/new — Start a new conversation\n/help — Show available commands")
	out.Metadata = msg.Metadata
	return &out
}

// withTurnContext decorates ctx with per-turn routing information and returns
// a channel that receives a signal when the message tool has sent a reply.
func (loop *AgentLoop) withTurnContext(ctx context.Context, msg bus.InboundMessage) (context.Context, chan struct{}) {
	msgID := ""
	if v, ok := msg.Metadata["message_id"].(string); ok {
		msgID = v
	}
	msgSent := make(chan struct{}, 1)
	ctx = tools.WithTurn(ctx, tools.TurnContext{
		Channel:     msg.Channel,
		ChatID:      msg.ChatID,
		MsgID:       msgID,
		MessageSent: msgSent,
	})
	return ctx, msgSent
}

// makeProgressCallback returns a function that pushes intermediate output to
// the outbound bus so clients can display streaming progress.
func (loop *AgentLoop) makeProgressCallback(msg bus.InboundMessage) func(string) {
	return func(content string) {
		meta := map[string]any{"_progress": true}
		for k, v := range msg.Metadata {
			meta[k] = v
		}
		out := bus.NewOutboundMessage(msg.Channel, msg.ChatID, loop.policy.RedactText(content))
		out.Metadata = meta
		loop.bus.PublishOutbound(out)
	}
}
