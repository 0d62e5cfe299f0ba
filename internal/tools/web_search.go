package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// SearchCreds holds one search backend's key and endpoint.
type SearchCreds struct {
	APIKey  string
	BaseURL string
}

// searchEnvKeys maps provider name to the fallback environment variable.
var searchEnvKeys = map[string]string{
	"brave":  "BRAVE_API_KEY",
	"tavily": "TAVILY_API_KEY",
	"serper": "SERPER_API_KEY",
}

// searchResult is one hit, normalised across providers.
type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearchTool searches the web through a configurable provider
// (brave, tavily, or serper).
type WebSearchTool struct {
	provider   string
	creds      map[string]SearchCreds
	maxResults int
	httpClient *http.Client
}

// NewWebSearchTool creates a WebSearchTool. provider selects the default
// backend; creds maps provider name to credentials. maxResults defaults to 5.
func NewWebSearchTool(provider string, creds map[string]SearchCreds, maxResults int) *WebSearchTool {
	if provider == "" {
		provider = "brave"
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{
		provider:   provider,
		creds:      creds,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web. Returns titles, URLs, and snippets."
}
func (t *WebSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "Search query"
			},
			"count": {
				"type": "integer",
				"description": "Results (1-10)",
				"minimum": 1,
				"maximum": 10
			},
			"provider": {
				"type": "string",
				"enum": ["brave", "tavily", "serper"],
				"description": "Override the configured search provider"
			}
		},
		"required": ["query"]
	}`)
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return "Error: query is required", nil
	}

	provider := t.provider
	if p, ok := params["provider"].(string); ok && p != "" {
		provider = p
	}

	n := t.maxResults
	if countVal, ok := asNumber(params["count"]); ok {
		n = int(countVal)
	}
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}

	envKey, known := searchEnvKeys[provider]
	if !known {
		return fmt.Sprintf("Error: unknown search provider: %s", provider), nil
	}

	creds := t.creds[provider]
	if creds.APIKey == "" {
		creds.APIKey = os.Getenv(envKey)
	}
	if creds.APIKey == "" {
		return fmt.Sprintf("Error: %s api key not configured (set tools.web.search.providers.%s.apiKey or %s)",
			provider, provider, envKey), nil
	}

	var (
		results []searchResult
		err     error
	)
	switch provider {
	case "brave":
		results, err = t.searchBrave(ctx, creds, query, n)
	case "tavily":
		results, err = t.searchTavily(ctx, creds, query, n)
	case "serper":
		results, err = t.searchSerper(ctx, creds, query, n)
	}
	if err != nil {
		return fmt.Sprintf("Error: %s search failed: %v", provider, err), nil
	}

	if len(results) == 0 {
		return fmt.Sprintf("No results for: %s", query), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Results for: %s\n\n", query))
	for i, item := range results {
		if i >= n {
			break
		}
		sb.WriteString(fmt.Sprintf("%d. %s\n   %s", i+1, item.Title, item.URL))
		if item.Snippet != "" {
			sb.WriteString("\n   " + item.Snippet)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (t *WebSearchTool) searchBrave(ctx context.Context, creds SearchCreds, query string, n int) ([]searchResult, error) {
	base := creds.BaseURL
	if base == "" {
		base = "https://api.search.brave.com/res/v1/web/search"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", n))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", creds.APIKey)

	raw, err := t.doSearch(req)
	if err != nil {
		return nil, err
	}

	var data struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	out := make([]searchResult, 0, len(data.Web.Results))
	for _, r := range data.Web.Results {
		out = append(out, searchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

func (t *WebSearchTool) searchTavily(ctx context.Context, creds SearchCreds, query string, n int) ([]searchResult, error) {
	base := creds.BaseURL
	if base == "" {
		base = "https://api.tavily.com/search"
	}
	body, _ := json.Marshal(map[string]any{
		"api_key":     creds.APIKey,
		"query":       query,
		"max_results": n,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := t.doSearch(req)
	if err != nil {
		return nil, err
	}

	var data struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	out := make([]searchResult, 0, len(data.Results))
	for _, r := range data.Results {
		snippet := r.Content
		if snippet == "" {
			snippet = r.Snippet
		}
		out = append(out, searchResult{Title: r.Title, URL: r.URL, Snippet: snippet})
	}
	return out, nil
}

func (t *WebSearchTool) searchSerper(ctx context.Context, creds SearchCreds, query string, n int) ([]searchResult, error) {
	base := creds.BaseURL
	if base == "" {
		base = "https://google.serper.dev/search"
	}
	body, _ := json.Marshal(map[string]any{
		"q":   query,
		"num": n,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", creds.APIKey)

	raw, err := t.doSearch(req)
	if err != nil {
		return nil, err
	}

	var data struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	out := make([]searchResult, 0, len(data.Organic))
	for _, r := range data.Organic {
		out = append(out, searchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}

func (t *WebSearchTool) doSearch(req *http.Request) ([]byte, error) {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}
	return raw, nil
}
