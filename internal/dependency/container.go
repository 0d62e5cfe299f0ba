// Package dependency wires core ambergull services using go.uber.org/dig.
package dependency

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/dig"

	"github.com/ambergull/ambergull/internal/agent"
	"github.com/ambergull/ambergull/internal/bus"
	"github.com/ambergull/ambergull/internal/channels"
	"github.com/ambergull/ambergull/internal/config"
	"github.com/ambergull/ambergull/internal/cron"
	"github.com/ambergull/ambergull/internal/heartbeat"
	"github.com/ambergull/ambergull/internal/mcp"
	"github.com/ambergull/ambergull/internal/providers"
	"github.com/ambergull/ambergull/internal/redact"
	"github.com/ambergull/ambergull/internal/schema"
	"github.com/ambergull/ambergull/internal/session"
	"github.com/ambergull/ambergull/internal/tools"
	"github.com/ambergull/ambergull/internal/tools/browser"
	"github.com/ambergull/ambergull/internal/tools/codex"
	"github.com/ambergull/ambergull/internal/tools/todo"
)

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	provider   schema.LLMProvider
	msgBus     *bus.MessageBus
	loop       *agent.AgentLoop
	cronSvc    *cron.Service
	heartbeat  *heartbeat.Service
	channelMgr *channels.Manager
}

func (c *Container) Provider() schema.LLMProvider  { return c.provider }
func (c *Container) MessageBus() *bus.MessageBus   { return c.msgBus }
func (c *Container) AgentLoop() *agent.AgentLoop   { return c.loop }
func (c *Container) CronService() *cron.Service    { return c.cronSvc }
func (c *Container) Heartbeat() *heartbeat.Service { return c.heartbeat }
func (c *Container) Channels() *channels.Manager   { return c.channelMgr }

// LLMModel is a named string type so dig can distinguish it from plain
// strings when injecting the effective model name into services that need it.
type LLMModel string

// AgentRegistry wraps the full tool registry used by the main agent loop.
type AgentRegistry struct{ *tools.Registry }

// SubagentRegistry wraps the restricted tool registry used by subagents.
// It must not contain spawn or message tools to prevent recursion and
// unsolicited outbound messages.
type SubagentRegistry struct{ *tools.Registry }

// New builds and wires all core services from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	constructors := []any{
		func() *config.Config { return cfg },
		newProvider,
		resolveLLMModel,
		newMessageBus,
		newSessionManager,
		newRedactor,
		newOutboundPolicy,
		newMCPManager,
		newContextBuilder,
		newCompactor,
		newCronService,
		newSubagentRegistry,
		newAgentFactory,
		newSubagentManager,
		newAgentRegistry,
		newAgentLoop,
		newChannelManager,
		newHeartbeat,
	}
	for _, c := range constructors {
		if err := d.Provide(c); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		provider schema.LLMProvider,
		msgBus *bus.MessageBus,
		loop *agent.AgentLoop,
		cronSvc *cron.Service,
		hb *heartbeat.Service,
		channelMgr *channels.Manager,
	) {
		// Fired cron jobs re-enter through the loop (agent_turn), the live
		// tool list (tool_call), or straight to the outbound bus.
		dispatcher := cron.NewDispatcher(loop, loop.Tools(), msgBus)
		cronSvc.SetOnJob(dispatcher.Dispatch)

		result = &Container{
			provider:   provider,
			msgBus:     msgBus,
			loop:       loop,
			cronSvc:    cronSvc,
			heartbeat:  hb,
			channelMgr: channelMgr,
		}
	})
	return result, err
}

func newProvider(cfg *config.Config) (schema.LLMProvider, error) {
	model := cfg.Agents.Defaults.Model
	result := cfg.MatchProvider(model)

	if result.Provider == nil {
		return nil, fmt.Errorf("no API key configured for model %q — edit %s", model, config.ConfigPath())
	}

	apiBase := result.Provider.APIBase
	if apiBase == "" {
		apiBase = cfg.GetAPIBase(model)
	}
	return providers.New(providers.Params{
		APIKey:       result.Provider.APIKey,
		APIBase:      apiBase,
		ExtraHeaders: result.Provider.ExtraHeaders,
		DefaultModel: model,
		ProviderName: result.Name,
	}), nil
}

func resolveLLMModel(cfg *config.Config, p schema.LLMProvider) LLMModel {
	m := cfg.Agents.Defaults.Model
	if m == "" {
		m = p.DefaultModel()
	}
	return LLMModel(m)
}

func newMessageBus() *bus.MessageBus {
	return bus.NewMessageBus(100)
}

func newSessionManager(cfg *config.Config) (*session.Manager, error) {
	return session.NewManager(cfg.WorkspacePath())
}

// newRedactor collects every secret, endpoint, and chat id known at startup
// so outbound text can be masked before it leaves the process.
func newRedactor(cfg *config.Config) *redact.Redactor {
	var secrets, endpoints, chatIDs []string

	for _, spec := range providers.PROVIDERS {
		p := cfg.ProviderByName(spec.Name)
		if p == nil {
			continue
		}
		if p.APIKey != "" {
			secrets = append(secrets, p.APIKey)
		}
		if p.APIBase != "" {
			endpoints = append(endpoints, p.APIBase)
		}
	}

	secrets = append(secrets,
		cfg.Channels.Telegram.Token,
		cfg.Channels.Slack.BotToken,
		cfg.Channels.Slack.AppToken,
		cfg.Channels.WhatsApp.BridgeToken,
		cfg.Tools.Web.Search.Providers.Brave.APIKey,
		cfg.Tools.Web.Search.Providers.Tavily.APIKey,
		cfg.Tools.Web.Search.Providers.Serper.APIKey,
	)
	endpoints = append(endpoints, cfg.Channels.WhatsApp.BridgeURL)

	chatIDs = append(chatIDs, cfg.Channels.Telegram.AllowFrom...)
	chatIDs = append(chatIDs, cfg.Channels.WhatsApp.AllowFrom...)
	chatIDs = append(chatIDs, cfg.Channels.Slack.GroupAllowFrom...)
	chatIDs = append(chatIDs, cfg.Channels.Slack.DM.AllowFrom...)

	return redact.New(redact.Options{
		Workspace:  cfg.WorkspacePath(),
		ConfigPath: config.ConfigPath(),
		Secrets:    secrets,
		Endpoints:  endpoints,
		ChatIDs:    chatIDs,
	})
}

func newOutboundPolicy(cfg *config.Config, r *redact.Redactor) *redact.OutboundPolicy {
	return redact.NewOutboundPolicy(cfg.WorkspacePath(), r, cfg.Security.RedactSensitiveOutput)
}

func newMCPManager(cfg *config.Config) *mcp.Manager {
	return mcp.NewManager(cfg.Tools.MCPServers)
}

func newContextBuilder(cfg *config.Config) *agent.ContextBuilder {
	return agent.NewContextBuilder(cfg.WorkspacePath(), "")
}

func newCompactor(
	cfg *config.Config,
	cb *agent.ContextBuilder,
	sessions *session.Manager,
	p schema.LLMProvider,
	m LLMModel,
) *agent.MemoryCompactor {
	return agent.NewMemoryCompactor(cb.Memory(), sessions, p, string(m), cfg.Agents.Defaults.MemoryWindow)
}

func newCronService(cfg *config.Config) *cron.Service {
	return cron.NewService(filepath.Join(cfg.WorkspacePath(), "cron", "jobs.json"))
}

func searchCreds(cfg *config.Config) map[string]tools.SearchCreds {
	p := cfg.Tools.Web.Search.Providers
	return map[string]tools.SearchCreds{
		"brave":  {APIKey: p.Brave.APIKey, BaseURL: p.Brave.BaseURL},
		"tavily": {APIKey: p.Tavily.APIKey, BaseURL: p.Tavily.BaseURL},
		"serper": {APIKey: p.Serper.APIKey, BaseURL: p.Serper.BaseURL},
	}
}

func newSubagentRegistry(cfg *config.Config) SubagentRegistry {
	workspace := cfg.WorkspacePath()
	allowedDir := ""
	if cfg.Tools.RestrictToWorkspace {
		allowedDir = workspace
	}

	registry := tools.NewRegistryBuilder().
		WithTool(tools.NewReadFileTool(workspace, allowedDir)).
		WithTool(tools.NewWriteFileTool(workspace, allowedDir)).
		WithTool(tools.NewEditFileTool(workspace, allowedDir)).
		WithTool(tools.NewListDirTool(workspace, allowedDir)).
		WithTool(tools.NewExecTool(workspace, cfg.Tools.Exec.Timeout, cfg.Tools.RestrictToWorkspace)).
		WithTool(tools.NewWebSearchTool(cfg.Tools.Web.Search.Provider, searchCreds(cfg), cfg.Tools.Web.Search.MaxResults)).
		WithTool(tools.NewWebFetchTool(0)).
		Build()

	return SubagentRegistry{registry}
}

func newAgentFactory(
	p schema.LLMProvider,
	cfg *config.Config,
	m LLMModel,
	subReg SubagentRegistry,
	mcpMgr *mcp.Manager,
) *agent.AgentFactory {
	coreSettings := schema.NewAgentSettings(
		string(m),
		cfg.Agents.Defaults.MaxToolIter,
		cfg.Agents.Defaults.Temperature,
		cfg.Agents.Defaults.MaxTokens,
		cfg.Agents.Defaults.MemoryWindow,
	)

	// Subagents get a shorter leash and no memory window of their own.
	subSettings := schema.NewAgentSettings(
		string(m),
		15,
		cfg.Agents.Defaults.Temperature,
		cfg.Agents.Defaults.MaxTokens,
		0,
	)

	return agent.NewFactory(p, coreSettings, subSettings, subReg.Registry, mcpMgr, cfg.WorkspacePath())
}

func newSubagentManager(factory *agent.AgentFactory, msgBus *bus.MessageBus) *agent.SubagentManager {
	return agent.NewSubagentManager(factory, msgBus)
}

func newAgentRegistry(
	cfg *config.Config,
	msgBus *bus.MessageBus,
	subMgr *agent.SubagentManager,
	cronSvc *cron.Service,
	cb *agent.ContextBuilder,
) AgentRegistry {
	workspace := cfg.WorkspacePath()
	allowedDir := ""
	if cfg.Tools.RestrictToWorkspace {
		allowedDir = workspace
	}

	b := tools.NewRegistryBuilder().
		WithTool(tools.NewReadFileTool(workspace, allowedDir)).
		WithTool(tools.NewWriteFileTool(workspace, allowedDir)).
		WithTool(tools.NewEditFileTool(workspace, allowedDir)).
		WithTool(tools.NewListDirTool(workspace, allowedDir)).
		WithTool(tools.NewExecTool(workspace, cfg.Tools.Exec.Timeout, cfg.Tools.RestrictToWorkspace)).
		WithTool(tools.NewWebSearchTool(cfg.Tools.Web.Search.Provider, searchCreds(cfg), cfg.Tools.Web.Search.MaxResults)).
		WithTool(tools.NewWebFetchTool(0)).
		WithTool(tools.NewMessageTool(msgBus)).
		WithTool(tools.NewSpawnTool(subMgr)).
		WithTool(tools.NewCronTool(cronSvc)).
		WithTool(tools.NewSaveMemoryTool(cb.Memory())).
		WithTool(todo.NewTool(workspace))

	if cfg.Tools.Web.Browser.Enabled {
		b = b.WithTool(browser.NewRunTool(workspace, cfg.Tools.Web.Browser))
	}
	if cfg.Tools.Codex.Enabled {
		b = b.WithTool(codex.NewRunTool(workspace, cfg.Tools.Codex, cfg.Tools.RestrictToWorkspace)).
			WithTool(codex.NewMergeTool(workspace, cfg.Tools.Codex, cfg.Tools.RestrictToWorkspace, ""))
	}

	return AgentRegistry{b.Build()}
}

func newAgentLoop(
	msgBus *bus.MessageBus,
	factory *agent.AgentFactory,
	cfg *config.Config,
	m LLMModel,
	sessions *session.Manager,
	compactor *agent.MemoryCompactor,
	reg AgentRegistry,
	subMgr *agent.SubagentManager,
	cb *agent.ContextBuilder,
	policy *redact.OutboundPolicy,
	redactor *redact.Redactor,
) *agent.AgentLoop {
	settings := schema.NewAgentSettings(
		string(m),
		cfg.Agents.Defaults.MaxToolIter,
		cfg.Agents.Defaults.Temperature,
		cfg.Agents.Defaults.MaxTokens,
		cfg.Agents.Defaults.MemoryWindow,
	)

	return agent.NewAgentLoop(msgBus, factory, settings, sessions, compactor, reg.Registry, subMgr, cb, policy, redactor)
}

func newChannelManager(cfg *config.Config, msgBus *bus.MessageBus, policy *redact.OutboundPolicy) *channels.Manager {
	return channels.NewManager(cfg, msgBus, policy)
}

func newHeartbeat(cfg *config.Config, p schema.LLMProvider, m LLMModel, loop *agent.AgentLoop) *heartbeat.Service {
	interval := time.Duration(cfg.Heartbeat.IntervalMinutes) * time.Minute
	return heartbeat.NewService(cfg.WorkspacePath(), p, string(m), loop, interval)
}
