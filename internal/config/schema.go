// Package config defines the configuration schema for ambergull.
//
// JSON keys use camelCase to stay byte-compatible with existing
// ~/.ambergull/config.json files created by earlier releases.
package config

import (
	"os"
	"path/filepath"
)

// ProviderConfig holds credentials for one LLM provider.
type ProviderConfig struct {
	APIKey       string            `json:"apiKey"`
	APIBase      string            `json:"apiBase,omitempty"`
	ExtraHeaders map[string]string `json:"extraHeaders,omitempty"`
}

// ProvidersConfig holds credentials for all supported LLM providers.
type ProvidersConfig struct {
	Custom      ProviderConfig `json:"custom"`
	Anthropic   ProviderConfig `json:"anthropic"`
	OpenAI      ProviderConfig `json:"openai"`
	OpenRouter  ProviderConfig `json:"openrouter"`
	DeepSeek    ProviderConfig `json:"deepseek"`
	Groq        ProviderConfig `json:"groq"`
	Zhipu       ProviderConfig `json:"zhipu"`
	DashScope   ProviderConfig `json:"dashscope"`
	VLLM        ProviderConfig `json:"vllm"`
	Gemini      ProviderConfig `json:"gemini"`
	Moonshot    ProviderConfig `json:"moonshot"`
	MiniMax     ProviderConfig `json:"minimax"`
	AiHubMix    ProviderConfig `json:"aihubmix"`
	SiliconFlow ProviderConfig `json:"siliconflow"`
	VolcEngine  ProviderConfig `json:"volcengine"`
}

// AgentDefaults holds default values for agent behaviour.
type AgentDefaults struct {
	Workspace    string  `json:"workspace"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"maxTokens"`
	Temperature  float64 `json:"temperature"`
	MaxToolIter  int     `json:"maxToolIterations"`
	MemoryWindow int     `json:"memoryWindow"`
}

func defaultAgentDefaults() AgentDefaults {
	return AgentDefaults{
		Workspace:    "~/.ambergull/workspace",
		Model:        "anthropic/claude-opus-4-5",
		MaxTokens:    8192,
		Temperature:  0.7,
		MaxToolIter:  20,
		MemoryWindow: 50,
	}
}

// AgentsConfig wraps agent defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

func defaultAgentsConfig() AgentsConfig {
	return AgentsConfig{Defaults: defaultAgentDefaults()}
}

// ---- Channel configs -------------------------------------------------------

// WhatsAppConfig configures the WhatsApp channel.
type WhatsAppConfig struct {
	Enabled     bool     `json:"enabled"`
	BridgeURL   string   `json:"bridgeUrl"`
	BridgeToken string   `json:"bridgeToken"`
	AllowFrom   []string `json:"allowFrom"`
}

func defaultWhatsAppConfig() WhatsAppConfig {
	return WhatsAppConfig{BridgeURL: "ws://localhost:3001", AllowFrom: []string{}}
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"token"`
	AllowFrom      []string `json:"allowFrom"`
	Proxy          string   `json:"proxy,omitempty"`
	ReplyToMessage bool     `json:"replyToMessage"`
}

func defaultTelegramConfig() TelegramConfig {
	return TelegramConfig{AllowFrom: []string{}}
}

// SlackDMConfig controls direct-message behaviour in Slack.
type SlackDMConfig struct {
	Enabled   bool     `json:"enabled"`
	Policy    string   `json:"policy"` // "open" or "allowlist"
	AllowFrom []string `json:"allowFrom"`
}

func defaultSlackDMConfig() SlackDMConfig {
	return SlackDMConfig{Enabled: true, Policy: "open", AllowFrom: []string{}}
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	Enabled        bool          `json:"enabled"`
	BotToken       string        `json:"botToken"`
	AppToken       string        `json:"appToken"`
	ReplyInThread  bool          `json:"replyInThread"`
	ReactEmoji     string        `json:"reactEmoji"`
	GroupPolicy    string        `json:"groupPolicy"`
	GroupAllowFrom []string      `json:"groupAllowFrom"`
	DM             SlackDMConfig `json:"dm"`
}

func defaultSlackConfig() SlackConfig {
	return SlackConfig{
		ReplyInThread:  true,
		ReactEmoji:     "eyes",
		GroupPolicy:    "mention",
		GroupAllowFrom: []string{},
		DM:             defaultSlackDMConfig(),
	}
}

// ChannelsConfig groups all channel configurations plus cross-channel
// delivery behaviour.
type ChannelsConfig struct {
	// SendProgress forwards interim assistant text (between tool rounds)
	// to the chat as lightweight progress updates.
	SendProgress bool `json:"sendProgress"`
	// SendToolHints announces which tool the agent is about to run.
	SendToolHints bool `json:"sendToolHints"`

	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
}

func defaultChannelsConfig() ChannelsConfig {
	return ChannelsConfig{
		SendProgress:  true,
		SendToolHints: false,
		WhatsApp:      defaultWhatsAppConfig(),
		Telegram:      defaultTelegramConfig(),
		Slack:         defaultSlackConfig(),
	}
}

// ---- Security --------------------------------------------------------------

// SecurityConfig controls outbound redaction.
type SecurityConfig struct {
	RedactSensitiveOutput bool `json:"redactSensitiveOutput"`
}

func defaultSecurityConfig() SecurityConfig {
	return SecurityConfig{RedactSensitiveOutput: true}
}

// ---- Tool configs ----------------------------------------------------------

// SearchProviderConfig holds one web-search backend's credentials.
type SearchProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// SearchProvidersConfig groups the supported web-search backends.
type SearchProvidersConfig struct {
	Brave  SearchProviderConfig `json:"brave"`
	Tavily SearchProviderConfig `json:"tavily"`
	Serper SearchProviderConfig `json:"serper"`
}

// Default search endpoints, filled in when a provider's baseUrl is empty.
const (
	BraveSearchURL  = "https://api.search.brave.com/res/v1/web/search"
	TavilySearchURL = "https://api.tavily.com/search"
	SerperSearchURL = "https://google.serper.dev/search"
)

func defaultSearchProvidersConfig() SearchProvidersConfig {
	return SearchProvidersConfig{
		Brave:  SearchProviderConfig{BaseURL: BraveSearchURL},
		Tavily: SearchProviderConfig{BaseURL: TavilySearchURL},
		Serper: SearchProviderConfig{BaseURL: SerperSearchURL},
	}
}

// WebSearchConfig configures the web_search tool.
type WebSearchConfig struct {
	Provider   string                `json:"provider"`
	Providers  SearchProvidersConfig `json:"providers"`
	MaxResults int                   `json:"maxResults"`
}

func defaultWebSearchConfig() WebSearchConfig {
	return WebSearchConfig{
		Provider:   "brave",
		Providers:  defaultSearchProvidersConfig(),
		MaxResults: 5,
	}
}

// BrowserToolConfig configures the browser_run tool.
type BrowserToolConfig struct {
	Enabled             bool   `json:"enabled"`
	DefaultBrowser      string `json:"defaultBrowser"` // chromium or firefox
	Headless            bool   `json:"headless"`
	TimeoutMs           int    `json:"timeoutMs"`
	MaxActions          int    `json:"maxActions"`
	MaxExtractChars     int    `json:"maxExtractChars"`
	StateDir            string `json:"stateDir"`     // workspace-relative
	ArtifactsDir        string `json:"artifactsDir"` // workspace-relative
	AllowPrivateNetwork bool   `json:"allowPrivateNetwork"`
	BlockFileScheme     bool   `json:"blockFileScheme"`
	AutoInstallBrowsers bool   `json:"autoInstallBrowsers"`
}

func defaultBrowserToolConfig() BrowserToolConfig {
	return BrowserToolConfig{
		Enabled:             true,
		DefaultBrowser:      "chromium",
		Headless:            true,
		TimeoutMs:           30000,
		MaxActions:          20,
		MaxExtractChars:     20000,
		StateDir:            "browser/state",
		ArtifactsDir:        "screenshots",
		BlockFileScheme:     true,
		AutoInstallBrowsers: true,
	}
}

// WebToolsConfig groups web-related tool settings.
type WebToolsConfig struct {
	Search  WebSearchConfig   `json:"search"`
	Browser BrowserToolConfig `json:"browser"`
}

func defaultWebToolsConfig() WebToolsConfig {
	return WebToolsConfig{
		Search:  defaultWebSearchConfig(),
		Browser: defaultBrowserToolConfig(),
	}
}

// ExecToolConfig configures the shell-exec tool.
type ExecToolConfig struct {
	Timeout int `json:"timeout"` // seconds
}

func defaultExecToolConfig() ExecToolConfig {
	return ExecToolConfig{Timeout: 60}
}

// CodexToolConfig configures the codex_run and codex_merge tools.
type CodexToolConfig struct {
	Enabled                  bool   `json:"enabled"`
	Command                  string `json:"command"`
	DefaultSandbox           string `json:"defaultSandbox"`
	AllowDangerousFullAccess bool   `json:"allowDangerousFullAccess"`
	AllowWorkspaceWrite      bool   `json:"allowWorkspaceWrite"`
	Timeout                  int    `json:"timeout"` // seconds
	MaxOutputChars           int    `json:"maxOutputChars"`
}

func defaultCodexToolConfig() CodexToolConfig {
	return CodexToolConfig{
		Command:             "codex",
		DefaultSandbox:      "workspace-write",
		AllowWorkspaceWrite: true,
		Timeout:             600,
		MaxOutputChars:      20000,
	}
}

// MCPServerConfig describes one MCP server connection (stdio or HTTP).
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// ToolsConfig groups all tool-level settings.
type ToolsConfig struct {
	Web                 WebToolsConfig             `json:"web"`
	Exec                ExecToolConfig             `json:"exec"`
	Codex               CodexToolConfig            `json:"codex"`
	RestrictToWorkspace bool                       `json:"restrictToWorkspace"`
	MCPServers          map[string]MCPServerConfig `json:"mcpServers"`
}

func defaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		Web:        defaultWebToolsConfig(),
		Exec:       defaultExecToolConfig(),
		Codex:      defaultCodexToolConfig(),
		MCPServers: map[string]MCPServerConfig{},
	}
}

// HeartbeatConfig controls the periodic self-check turn.
type HeartbeatConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"intervalMinutes"`
}

func defaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{Enabled: false, IntervalMinutes: 30}
}

// ---- Root config -----------------------------------------------------------

// Config is the root configuration object, loaded from ~/.ambergull/config.json.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Security  SecurityConfig  `json:"security"`
	Tools     ToolsConfig     `json:"tools"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Agents:    defaultAgentsConfig(),
		Channels:  defaultChannelsConfig(),
		Providers: ProvidersConfig{},
		Security:  defaultSecurityConfig(),
		Tools:     defaultToolsConfig(),
		Heartbeat: defaultHeartbeatConfig(),
	}
}

// WorkspacePath returns the expanded absolute path to the agent workspace.
func (c *Config) WorkspacePath() string {
	ws := c.Agents.Defaults.Workspace
	if ws == "" {
		ws = "~/.ambergull/workspace"
	}
	if len(ws) >= 2 && ws[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			ws = filepath.Join(home, ws[2:])
		}
	}
	return ws
}

// ProviderByName returns a pointer to the ProviderConfig field matching the
// given registry name (e.g. "openrouter", "anthropic"). Returns nil if unknown.
func (c *Config) ProviderByName(name string) *ProviderConfig {
	switch name {
	case "custom":
		return &c.Providers.Custom
	case "anthropic":
		return &c.Providers.Anthropic
	case "openai":
		return &c.Providers.OpenAI
	case "openrouter":
		return &c.Providers.OpenRouter
	case "deepseek":
		return &c.Providers.DeepSeek
	case "groq":
		return &c.Providers.Groq
	case "zhipu":
		return &c.Providers.Zhipu
	case "dashscope":
		return &c.Providers.DashScope
	case "vllm":
		return &c.Providers.VLLM
	case "gemini":
		return &c.Providers.Gemini
	case "moonshot":
		return &c.Providers.Moonshot
	case "minimax":
		return &c.Providers.MiniMax
	case "aihubmix":
		return &c.Providers.AiHubMix
	case "siliconflow":
		return &c.Providers.SiliconFlow
	case "volcengine":
		return &c.Providers.VolcEngine
	}
	return nil
}

// SearchProviderByName returns the web-search backend config for name, or nil.
func (c *Config) SearchProviderByName(name string) *SearchProviderConfig {
	switch name {
	case "brave":
		return &c.Tools.Web.Search.Providers.Brave
	case "tavily":
		return &c.Tools.Web.Search.Providers.Tavily
	case "serper":
		return &c.Tools.Web.Search.Providers.Serper
	}
	return nil
}
