package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigPath returns the default configuration file path: ~/.ambergull/config.json.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ambergull/config.json"
	}
	return filepath.Join(home, ".ambergull", "config.json")
}

// DataDir returns the ambergull data directory: ~/.ambergull.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ambergull"
	}
	return filepath.Join(home, ".ambergull")
}

// Load reads and parses the config file at path, applying legacy-key
// migration before decoding. If path is empty, ConfigPath() is used.
// On parse failure it prints a warning and returns DefaultConfig().
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		fmt.Printf("Warning: failed to parse config %s: %v\n", path, err)
		fmt.Println("Using default configuration.")
		cfg := DefaultConfig()
		return &cfg, nil
	}
	migrateLegacy(raw)

	migrated, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("remarshal config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(migrated, &cfg); err != nil {
		fmt.Printf("Warning: failed to parse config %s: %v\n", path, err)
		fmt.Println("Using default configuration.")
		cfg2 := DefaultConfig()
		return &cfg2, nil
	}
	fillSearchBaseURLs(&cfg)

	return &cfg, nil
}

// Save writes cfg to path as indented JSON.
// If path is empty, ConfigPath() is used.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// Append a trailing newline for POSIX compliance.
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// migrateLegacy rewrites config keys from older layouts in place:
//
//	tools.exec.restrictToWorkspace  -> tools.restrictToWorkspace
//	tools.browser.*                 -> tools.web.browser.*
//	tools.web.search.apiKey         -> tools.web.search.providers.brave.apiKey
//	tools.redactSensitiveOutput     -> security.redactSensitiveOutput
func migrateLegacy(raw map[string]any) {
	tools, _ := raw["tools"].(map[string]any)
	if tools == nil {
		return
	}

	if execCfg, ok := tools["exec"].(map[string]any); ok {
		if v, ok := execCfg["restrictToWorkspace"]; ok {
			if _, exists := tools["restrictToWorkspace"]; !exists {
				tools["restrictToWorkspace"] = v
			}
			delete(execCfg, "restrictToWorkspace")
		}
	}

	web, _ := tools["web"].(map[string]any)
	if web == nil {
		web = map[string]any{}
		tools["web"] = web
	}

	if legacyBrowser, ok := tools["browser"].(map[string]any); ok {
		if _, exists := web["browser"]; !exists {
			web["browser"] = legacyBrowser
		}
		delete(tools, "browser")
	}

	if search, ok := web["search"].(map[string]any); ok {
		if key, _ := search["apiKey"].(string); key != "" {
			providers, _ := search["providers"].(map[string]any)
			if providers == nil {
				providers = map[string]any{}
				search["providers"] = providers
			}
			brave, _ := providers["brave"].(map[string]any)
			if brave == nil {
				brave = map[string]any{}
				providers["brave"] = brave
			}
			if existing, _ := brave["apiKey"].(string); existing == "" {
				brave["apiKey"] = key
			}
		}
	}

	if v, ok := tools["redactSensitiveOutput"]; ok {
		security, _ := raw["security"].(map[string]any)
		if security == nil {
			security = map[string]any{}
			raw["security"] = security
		}
		if _, exists := security["redactSensitiveOutput"]; !exists {
			security["redactSensitiveOutput"] = v
		}
		delete(tools, "redactSensitiveOutput")
	}
}

// fillSearchBaseURLs restores default endpoints for search providers whose
// baseUrl was left empty in the config file.
func fillSearchBaseURLs(cfg *Config) {
	p := &cfg.Tools.Web.Search.Providers
	if p.Brave.BaseURL == "" {
		p.Brave.BaseURL = BraveSearchURL
	}
	if p.Tavily.BaseURL == "" {
		p.Tavily.BaseURL = TavilySearchURL
	}
	if p.Serper.BaseURL == "" {
		p.Serper.BaseURL = SerperSearchURL
	}
}
