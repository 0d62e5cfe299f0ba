package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/ambergull/ambergull/internal/config"
)

const (
	minRunTimeoutMs    = 1000
	maxRunTimeoutMs    = 120000
	minActionTimeoutMs = 100
	minExtractChars    = 100
	maxExtractChars    = 100000
)

// RunTool drives a playwright browser through a scripted list of actions in a
// single tool call: navigate, interact, extract, screenshot, done.
type RunTool struct {
	workspace string
	cfg       config.BrowserToolConfig
}

// NewRunTool creates the browser_run tool rooted at the agent workspace.
func NewRunTool(workspace string, cfg config.BrowserToolConfig) *RunTool {
	return &RunTool{workspace: workspace, cfg: cfg}
}

func (t *RunTool) Name() string { return "browser_run" }

func (t *RunTool) Description() string {
	return "Run a headless browser session executing a list of actions " +
		"(goto, click, type, wait_for, extract_text, screenshot). " +
		"Use state_key to persist cookies/localStorage across calls."
}

func (t *RunTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"actions": {
				"type": "array",
				"description": "Actions executed in order. Each item: {type: goto|click|type|wait_for|extract_text|screenshot, url, selector, text, press_enter, wait_until, timeout_ms, max_chars, path, full_page}",
				"items": {"type": "object"}
			},
			"browser": {
				"type": "string",
				"enum": ["chromium", "firefox"],
				"description": "Browser engine (default from config)"
			},
			"headless": {
				"type": "boolean",
				"description": "Run without a visible window (default from config)"
			},
			"timeout_ms": {
				"type": "integer",
				"minimum": 1000,
				"maximum": 120000,
				"description": "Overall default timeout per operation in milliseconds"
			},
			"state_key": {
				"type": "string",
				"description": "Named storage state to load before the run (cookies, localStorage)"
			},
			"save_state": {
				"type": "boolean",
				"description": "Persist storage state under state_key after the run"
			}
		},
		"required": ["actions"]
	}`)
}

// browserAction is one validated step of a run.
type browserAction struct {
	Type       string
	URL        string
	Selector   string
	Text       string
	PressEnter bool
	WaitUntil  string
	TimeoutMs  int
	MaxChars   int
	Path       string
	FullPage   bool
}

// runRequest is a fully validated browser_run invocation.
type runRequest struct {
	Browser   string
	Headless  bool
	TimeoutMs int
	StateKey  string
	SaveState bool
	Actions   []browserAction
}

func (t *RunTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	req, verr := t.validate(params)
	if verr != "" {
		return envelope(map[string]any{
			"ok":    false,
			"error": map[string]any{"code": "invalid_input", "message": verr},
		}), nil
	}

	start := time.Now()
	result, runErr := t.runOnce(ctx, req, true)
	if runErr != nil {
		code := "browser_run_failed"
		if strings.HasPrefix(runErr.Error(), "install ") {
			code = "browser_install_failed"
		}
		return envelope(map[string]any{
			"ok":       false,
			"browser":  req.Browser,
			"headless": req.Headless,
			"error":    map[string]any{"code": code, "message": runErr.Error()},
			"timingMs": time.Since(start).Milliseconds(),
		}), nil
	}

	result["ok"] = true
	result["browser"] = req.Browser
	result["headless"] = req.Headless
	result["timingMs"] = time.Since(start).Milliseconds()
	return envelope(result), nil
}

// validate normalizes raw tool parameters into a runRequest. A non-empty
// second return value is the invalid_input message.
func (t *RunTool) validate(params map[string]any) (runRequest, string) {
	req := runRequest{
		Browser:   t.cfg.DefaultBrowser,
		Headless:  t.cfg.Headless,
		TimeoutMs: t.cfg.TimeoutMs,
	}
	if req.Browser == "" {
		req.Browser = "chromium"
	}
	if req.TimeoutMs == 0 {
		req.TimeoutMs = 30000
	}

	if v, ok := params["browser"].(string); ok && v != "" {
		req.Browser = v
	}
	if req.Browser != "chromium" && req.Browser != "firefox" {
		return req, fmt.Sprintf("unsupported browser %q (use chromium or firefox)", req.Browser)
	}
	if v, ok := params["headless"].(bool); ok {
		req.Headless = v
	}
	if v, ok := asInt(params["timeout_ms"]); ok {
		if v < minRunTimeoutMs || v > maxRunTimeoutMs {
			return req, fmt.Sprintf("timeout_ms must be between %d and %d", minRunTimeoutMs, maxRunTimeoutMs)
		}
		req.TimeoutMs = v
	}
	if v, ok := params["state_key"].(string); ok && v != "" {
		if err := validateStateKey(v); err != nil {
			return req, err.Error()
		}
		req.StateKey = v
	}
	if v, ok := params["save_state"].(bool); ok {
		req.SaveState = v
	}
	if req.SaveState && req.StateKey == "" {
		return req, "save_state requires state_key"
	}

	rawActions, ok := params["actions"].([]any)
	if !ok || len(rawActions) == 0 {
		return req, "actions must be a non-empty array"
	}
	maxActions := t.cfg.MaxActions
	if maxActions == 0 {
		maxActions = 20
	}
	if len(rawActions) > maxActions {
		return req, fmt.Sprintf("too many actions: %d (max %d)", len(rawActions), maxActions)
	}

	for i, raw := range rawActions {
		obj, ok := raw.(map[string]any)
		if !ok {
			return req, fmt.Sprintf("action %d must be an object", i)
		}
		act, err := t.validateAction(i, obj)
		if err != "" {
			return req, err
		}
		req.Actions = append(req.Actions, act)
	}
	return req, ""
}

func (t *RunTool) validateAction(i int, obj map[string]any) (browserAction, string) {
	act := browserAction{}
	act.Type, _ = obj["type"].(string)
	act.URL, _ = obj["url"].(string)
	act.Selector, _ = obj["selector"].(string)
	act.Text, _ = obj["text"].(string)
	act.PressEnter, _ = obj["press_enter"].(bool)
	act.WaitUntil, _ = obj["wait_until"].(string)
	act.FullPage, _ = obj["full_page"].(bool)
	act.Path, _ = obj["path"].(string)

	if v, ok := asInt(obj["timeout_ms"]); ok {
		if v < minActionTimeoutMs || v > maxRunTimeoutMs {
			return act, fmt.Sprintf("action %d: timeout_ms must be between %d and %d", i, minActionTimeoutMs, maxRunTimeoutMs)
		}
		act.TimeoutMs = v
	}

	switch act.Type {
	case "goto":
		if err := validateNavigationURL(act.URL, t.cfg.BlockFileScheme, t.cfg.AllowPrivateNetwork); err != nil {
			return act, fmt.Sprintf("action %d: %v", i, err)
		}
		switch act.WaitUntil {
		case "":
			act.WaitUntil = "domcontentloaded"
		case "domcontentloaded", "load", "networkidle":
		default:
			return act, fmt.Sprintf("action %d: invalid wait_until %q", i, act.WaitUntil)
		}
	case "click":
		if act.Selector == "" {
			return act, fmt.Sprintf("action %d: click requires selector", i)
		}
	case "type":
		if act.Selector == "" {
			return act, fmt.Sprintf("action %d: type requires selector", i)
		}
		if act.Text == "" {
			return act, fmt.Sprintf("action %d: type requires text", i)
		}
	case "wait_for":
		if act.Selector == "" && act.TimeoutMs == 0 {
			return act, fmt.Sprintf("action %d: wait_for requires selector or timeout_ms", i)
		}
	case "extract_text":
		maxChars := t.cfg.MaxExtractChars
		if maxChars == 0 {
			maxChars = 20000
		}
		if v, ok := asInt(obj["max_chars"]); ok {
			if v < minExtractChars || v > maxExtractChars {
				return act, fmt.Sprintf("action %d: max_chars must be between %d and %d", i, minExtractChars, maxExtractChars)
			}
			maxChars = v
		}
		act.MaxChars = maxChars
	case "screenshot":
		if act.Path == "" {
			act.Path = filepath.Join(t.artifactsDir(), fmt.Sprintf("shot-%d.png", time.Now().UnixMilli()))
		}
		resolved, err := resolvePathInWorkspace(t.workspace, act.Path)
		if err != nil {
			return act, fmt.Sprintf("action %d: %v", i, err)
		}
		act.Path = resolved
	case "":
		return act, fmt.Sprintf("action %d: type is required", i)
	default:
		return act, fmt.Sprintf("action %d: unknown type %q", i, act.Type)
	}
	return act, ""
}

// runOnce launches the browser and walks the action list. When the launch
// fails because the browser binaries are missing, it installs them and
// retries once.
func (t *RunTool) runOnce(ctx context.Context, req runRequest, allowInstall bool) (map[string]any, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	defer pw.Stop()

	bt := pw.Chromium
	if req.Browser == "firefox" {
		bt = pw.Firefox
	}

	b, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(req.Headless),
	})
	if err != nil {
		if allowInstall && t.cfg.AutoInstallBrowsers && isMissingBrowserError(err) {
			if ierr := installBrowser(req.Browser); ierr != nil {
				return nil, ierr
			}
			return t.runOnce(ctx, req, false)
		}
		return nil, fmt.Errorf("launch %s: %w", req.Browser, err)
	}
	defer b.Close()

	ctxOpts := playwright.BrowserNewContextOptions{}
	if req.StateKey != "" {
		statePath := t.statePath(req.StateKey)
		if _, serr := os.Stat(statePath); serr == nil {
			ctxOpts.StorageStatePath = playwright.String(statePath)
		}
	}
	bctx, err := b.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("browser context: %w", err)
	}
	defer bctx.Close()

	err = bctx.Route("**/*", func(route playwright.Route) {
		reason := requestURLBlockReason(route.Request().URL(), t.cfg.BlockFileScheme, t.cfg.AllowPrivateNetwork)
		if reason != "" {
			route.Abort("blockedbyclient")
			return
		}
		route.Continue()
	})
	if err != nil {
		return nil, fmt.Errorf("install request guard: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	page.SetDefaultTimeout(float64(req.TimeoutMs))

	var steps []map[string]any
	var artifacts []string
	for i, act := range req.Actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step, arts, err := t.execAction(page, act)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s): %w", i, act.Type, err)
		}
		steps = append(steps, step)
		artifacts = append(artifacts, arts...)
	}

	if req.SaveState {
		statePath := t.statePath(req.StateKey)
		if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
			return nil, fmt.Errorf("state dir: %w", err)
		}
		if _, err := bctx.StorageState(statePath); err != nil {
			return nil, fmt.Errorf("save state: %w", err)
		}
	}

	title, _ := page.Title()
	result := map[string]any{
		"finalUrl":  page.URL(),
		"title":     title,
		"steps":     steps,
		"artifacts": artifacts,
	}
	return result, nil
}

func (t *RunTool) execAction(page playwright.Page, act browserAction) (map[string]any, []string, error) {
	step := map[string]any{"action": act.Type, "ok": true}
	timeout := func() *float64 {
		if act.TimeoutMs > 0 {
			return playwright.Float(float64(act.TimeoutMs))
		}
		return nil
	}

	switch act.Type {
	case "goto":
		var waitUntil *playwright.WaitUntilState
		switch act.WaitUntil {
		case "load":
			waitUntil = playwright.WaitUntilStateLoad
		case "networkidle":
			waitUntil = playwright.WaitUntilStateNetworkidle
		default:
			waitUntil = playwright.WaitUntilStateDomcontentloaded
		}
		if _, err := page.Goto(act.URL, playwright.PageGotoOptions{
			WaitUntil: waitUntil,
			Timeout:   timeout(),
		}); err != nil {
			return nil, nil, err
		}
		step["url"] = act.URL
	case "click":
		if err := page.Locator(act.Selector).Click(playwright.LocatorClickOptions{Timeout: timeout()}); err != nil {
			return nil, nil, err
		}
		step["selector"] = act.Selector
	case "type":
		loc := page.Locator(act.Selector)
		if err := loc.Fill(act.Text, playwright.LocatorFillOptions{Timeout: timeout()}); err != nil {
			return nil, nil, err
		}
		if act.PressEnter {
			if err := loc.Press("Enter", playwright.LocatorPressOptions{Timeout: timeout()}); err != nil {
				return nil, nil, err
			}
		}
		step["selector"] = act.Selector
	case "wait_for":
		if act.Selector != "" {
			if err := page.Locator(act.Selector).WaitFor(playwright.LocatorWaitForOptions{
				State:   playwright.WaitForSelectorStateVisible,
				Timeout: timeout(),
			}); err != nil {
				return nil, nil, err
			}
			step["selector"] = act.Selector
		} else {
			page.WaitForTimeout(float64(act.TimeoutMs))
			step["waited_ms"] = act.TimeoutMs
		}
	case "extract_text":
		selector := act.Selector
		if selector == "" {
			selector = "body"
		}
		text, err := page.Locator(selector).First().InnerText(playwright.LocatorInnerTextOptions{Timeout: timeout()})
		if err != nil {
			return nil, nil, err
		}
		text = strings.TrimSpace(text)
		truncated := false
		if len(text) > act.MaxChars {
			text = text[:act.MaxChars]
			truncated = true
		}
		step["selector"] = selector
		step["text"] = text
		step["chars"] = len(text)
		step["truncated"] = truncated
	case "screenshot":
		if err := os.MkdirAll(filepath.Dir(act.Path), 0o755); err != nil {
			return nil, nil, err
		}
		if _, err := page.Screenshot(playwright.PageScreenshotOptions{
			Path:     playwright.String(act.Path),
			FullPage: playwright.Bool(act.FullPage),
		}); err != nil {
			return nil, nil, err
		}
		step["path"] = act.Path
		return step, []string{act.Path}, nil
	}
	return step, nil, nil
}

func (t *RunTool) statePath(key string) string {
	dir := t.cfg.StateDir
	if dir == "" {
		dir = filepath.Join("browser", "state")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(t.workspace, dir)
	}
	return filepath.Join(dir, key+".json")
}

func (t *RunTool) artifactsDir() string {
	dir := t.cfg.ArtifactsDir
	if dir == "" {
		dir = "screenshots"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(t.workspace, dir)
	}
	return dir
}

func envelope(payload map[string]any) string {
	out, err := json.Marshal(payload)
	if err != nil {
		return `{"ok":false,"error":{"code":"browser_run_failed","message":"unencodable result"}}`
	}
	return string(out)
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}
