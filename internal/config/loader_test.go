package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	def := DefaultConfig()
	if cfg.Agents.Defaults.Model != def.Agents.Defaults.Model {
		t.Errorf("expected default model %q, got %q", def.Agents.Defaults.Model, cfg.Agents.Defaults.Model)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"agents": map[string]any{
			"defaults": map[string]any{
				"model":     "openai/gpt-4o",
				"maxTokens": 4096,
			},
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agents.Defaults.Model != "openai/gpt-4o" {
		t.Errorf("expected model %q, got %q", "openai/gpt-4o", cfg.Agents.Defaults.Model)
	}
	if cfg.Agents.Defaults.MaxTokens != 4096 {
		t.Errorf("expected maxTokens 4096, got %d", cfg.Agents.Defaults.MaxTokens)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error for invalid JSON (falls back to default), got: %v", err)
	}
	def := DefaultConfig()
	if cfg.Agents.Defaults.Model != def.Agents.Defaults.Model {
		t.Errorf("expected default model %q, got %q", def.Agents.Defaults.Model, cfg.Agents.Defaults.Model)
	}
}

func TestLoad_PartialConfig_UsesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"agents": map[string]any{
			"defaults": map[string]any{
				"model": "custom/model",
			},
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := DefaultConfig()
	if cfg.Agents.Defaults.Model != "custom/model" {
		t.Errorf("expected model %q, got %q", "custom/model", cfg.Agents.Defaults.Model)
	}
	if cfg.Agents.Defaults.Temperature != def.Agents.Defaults.Temperature {
		t.Errorf("expected default temperature %v, got %v", def.Agents.Defaults.Temperature, cfg.Agents.Defaults.Temperature)
	}
	if cfg.Agents.Defaults.MemoryWindow != def.Agents.Defaults.MemoryWindow {
		t.Errorf("expected default memoryWindow %d, got %d", def.Agents.Defaults.MemoryWindow, cfg.Agents.Defaults.MemoryWindow)
	}
}

func TestLoad_MigratesExecRestrictToWorkspace(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"tools": map[string]any{
			"exec": map[string]any{
				"timeout":             30,
				"restrictToWorkspace": true,
			},
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Tools.RestrictToWorkspace {
		t.Error("tools.exec.restrictToWorkspace not migrated to tools.restrictToWorkspace")
	}
	if cfg.Tools.Exec.Timeout != 30 {
		t.Errorf("exec timeout lost in migration: got %d", cfg.Tools.Exec.Timeout)
	}
}

func TestLoad_MigratesLegacyBrowserSection(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"tools": map[string]any{
			"browser": map[string]any{
				"defaultBrowser": "firefox",
				"headless":       false,
			},
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tools.Web.Browser.DefaultBrowser != "firefox" {
		t.Errorf("legacy browser.defaultBrowser not migrated: got %q", cfg.Tools.Web.Browser.DefaultBrowser)
	}
	if cfg.Tools.Web.Browser.Headless {
		t.Error("legacy browser.headless not migrated")
	}
}

func TestLoad_MigratesSearchAPIKeyToBrave(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"tools": map[string]any{
			"web": map[string]any{
				"search": map[string]any{
					"apiKey": "legacy-brave-key",
				},
			},
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tools.Web.Search.Providers.Brave.APIKey != "legacy-brave-key" {
		t.Errorf("legacy search apiKey not migrated to brave: %+v", cfg.Tools.Web.Search.Providers.Brave)
	}
	if cfg.Tools.Web.Search.Providers.Brave.BaseURL != BraveSearchURL {
		t.Errorf("brave baseUrl not defaulted: %q", cfg.Tools.Web.Search.Providers.Brave.BaseURL)
	}
}

func TestLoad_MigratesRedactionFlagToSecurity(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"tools": map[string]any{
			"redactSensitiveOutput": false,
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Security.RedactSensitiveOutput {
		t.Error("tools.redactSensitiveOutput=false not migrated to security.redactSensitiveOutput")
	}
}

func TestLoad_FillsSearchBaseURLs(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"tools": map[string]any{
			"web": map[string]any{
				"search": map[string]any{
					"providers": map[string]any{
						"tavily": map[string]any{"apiKey": "tv-key", "baseUrl": ""},
					},
				},
			},
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tools.Web.Search.Providers.Tavily.BaseURL != TavilySearchURL {
		t.Errorf("tavily baseUrl not filled: %q", cfg.Tools.Web.Search.Providers.Tavily.BaseURL)
	}
	if cfg.Tools.Web.Search.Providers.Serper.BaseURL != SerperSearchURL {
		t.Errorf("serper baseUrl not filled: %q", cfg.Tools.Web.Search.Providers.Serper.BaseURL)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := DefaultConfig()
	original.Agents.Defaults.Model = "anthropic/claude-3-5-sonnet"
	original.Agents.Defaults.MaxTokens = 1234

	if err := Save(&original, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Agents.Defaults.Model != original.Agents.Defaults.Model {
		t.Errorf("model mismatch: got %q, want %q", loaded.Agents.Defaults.Model, original.Agents.Defaults.Model)
	}
	if loaded.Agents.Defaults.MaxTokens != original.Agents.Defaults.MaxTokens {
		t.Errorf("maxTokens mismatch: got %d, want %d", loaded.Agents.Defaults.MaxTokens, original.Agents.Defaults.MaxTokens)
	}
}

func TestSave_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	if err := Save(&cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected permissions 0600, got %04o", perm)
	}
}

func TestMatchProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers.DeepSeek.APIKey = "ds-key"
	cfg.Providers.OpenRouter.APIKey = "sk-or-key"

	if got := cfg.GetProviderName("deepseek/deepseek-chat"); got != "deepseek" {
		t.Errorf("prefix match = %q, want deepseek", got)
	}
	if got := cfg.GetProviderName("some-deepseek-variant"); got != "deepseek" {
		t.Errorf("keyword match = %q, want deepseek", got)
	}
	// No prefix or keyword hit: first configured registry entry wins.
	if got := cfg.GetProviderName("mystery-model"); got != "openrouter" {
		t.Errorf("fallback = %q, want openrouter", got)
	}
	if got := cfg.GetAPIBase("mystery-model"); got == "" {
		t.Error("gateway default apiBase not resolved")
	}
}
