package browser

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ambergull/ambergull/internal/config"
)

func testTool(t *testing.T) *RunTool {
	t.Helper()
	cfg := config.BrowserToolConfig{
		Enabled:             true,
		DefaultBrowser:      "chromium",
		Headless:            true,
		TimeoutMs:           30000,
		MaxActions:          5,
		MaxExtractChars:     20000,
		StateDir:            "browser/state",
		ArtifactsDir:        "screenshots",
		BlockFileScheme:     true,
		AutoInstallBrowsers: false,
	}
	return NewRunTool(t.TempDir(), cfg)
}

func execInvalid(t *testing.T, tool *RunTool, params map[string]any) string {
	t.Helper()
	out, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if payload["ok"] == true {
		t.Fatalf("expected failure envelope, got %s", out)
	}
	errObj, _ := payload["error"].(map[string]any)
	if code, _ := errObj["code"].(string); code != "invalid_input" {
		t.Fatalf("error code = %q, want invalid_input\n%s", code, out)
	}
	msg, _ := errObj["message"].(string)
	return msg
}

func gotoAction(url string) map[string]any {
	return map[string]any{"type": "goto", "url": url}
}

func TestExecuteRejectsEmptyActions(t *testing.T) {
	tool := testTool(t)
	msg := execInvalid(t, tool, map[string]any{"actions": []any{}})
	if !strings.Contains(msg, "non-empty") {
		t.Errorf("message = %q", msg)
	}
}

func TestExecuteRejectsTooManyActions(t *testing.T) {
	tool := testTool(t)
	actions := make([]any, 6)
	for i := range actions {
		actions[i] = gotoAction("https://example.com")
	}
	msg := execInvalid(t, tool, map[string]any{"actions": actions})
	if !strings.Contains(msg, "too many actions") {
		t.Errorf("message = %q", msg)
	}
}

func TestExecuteRejectsUnknownBrowser(t *testing.T) {
	tool := testTool(t)
	msg := execInvalid(t, tool, map[string]any{
		"actions": []any{gotoAction("https://example.com")},
		"browser": "safari",
	})
	if !strings.Contains(msg, "unsupported browser") {
		t.Errorf("message = %q", msg)
	}
}

func TestExecuteRejectsTimeoutOutOfRange(t *testing.T) {
	tool := testTool(t)
	for _, timeout := range []float64{500, 200000} {
		msg := execInvalid(t, tool, map[string]any{
			"actions":    []any{gotoAction("https://example.com")},
			"timeout_ms": timeout,
		})
		if !strings.Contains(msg, "timeout_ms") {
			t.Errorf("timeout %v: message = %q", timeout, msg)
		}
	}
}

func TestExecuteRejectsSaveStateWithoutKey(t *testing.T) {
	tool := testTool(t)
	msg := execInvalid(t, tool, map[string]any{
		"actions":    []any{gotoAction("https://example.com")},
		"save_state": true,
	})
	if msg != "save_state requires state_key" {
		t.Errorf("message = %q", msg)
	}
}

func TestExecuteRejectsBadStateKey(t *testing.T) {
	tool := testTool(t)
	msg := execInvalid(t, tool, map[string]any{
		"actions":   []any{gotoAction("https://example.com")},
		"state_key": "../escape",
	})
	if !strings.Contains(msg, "state_key") {
		t.Errorf("message = %q", msg)
	}
}

func TestExecuteRejectsPrivateHostGoto(t *testing.T) {
	tool := testTool(t)
	msg := execInvalid(t, tool, map[string]any{
		"actions": []any{gotoAction("http://169.254.169.254/latest")},
	})
	if !strings.Contains(msg, "blocked") {
		t.Errorf("message = %q", msg)
	}
}

func TestExecuteRejectsMalformedActions(t *testing.T) {
	tool := testTool(t)
	cases := []struct {
		name   string
		action map[string]any
		want   string
	}{
		{"missing type", map[string]any{"url": "https://example.com"}, "type is required"},
		{"unknown type", map[string]any{"type": "hover"}, "unknown type"},
		{"click without selector", map[string]any{"type": "click"}, "requires selector"},
		{"type without text", map[string]any{"type": "type", "selector": "#q"}, "requires text"},
		{"bare wait_for", map[string]any{"type": "wait_for"}, "selector or timeout_ms"},
		{"file url", map[string]any{"type": "goto", "url": "file:///etc/passwd"}, "blocked"},
		{"bad wait_until", map[string]any{"type": "goto", "url": "https://example.com", "wait_until": "idle"}, "wait_until"},
		{"tiny max_chars", map[string]any{"type": "extract_text", "max_chars": float64(5)}, "max_chars"},
		{"screenshot escape", map[string]any{"type": "screenshot", "path": "../../shot.png"}, "escapes the workspace"},
	}
	for _, tc := range cases {
		msg := execInvalid(t, tool, map[string]any{"actions": []any{tc.action}})
		if !strings.Contains(msg, tc.want) {
			t.Errorf("%s: message = %q, want substring %q", tc.name, msg, tc.want)
		}
	}
}

func TestValidateDefaultsAndNormalization(t *testing.T) {
	tool := testTool(t)
	req, verr := tool.validate(map[string]any{
		"actions": []any{
			gotoAction("https://example.com"),
			map[string]any{"type": "extract_text"},
			map[string]any{"type": "wait_for", "timeout_ms": float64(250)},
		},
	})
	if verr != "" {
		t.Fatalf("validate: %s", verr)
	}
	if req.Browser != "chromium" || !req.Headless || req.TimeoutMs != 30000 {
		t.Errorf("defaults not applied: %+v", req)
	}
	if req.Actions[0].WaitUntil != "domcontentloaded" {
		t.Errorf("wait_until default = %q", req.Actions[0].WaitUntil)
	}
	if req.Actions[1].MaxChars != 20000 {
		t.Errorf("max_chars default = %d", req.Actions[1].MaxChars)
	}
	if req.Actions[2].TimeoutMs != 250 {
		t.Errorf("wait_for timeout = %d", req.Actions[2].TimeoutMs)
	}
}

func TestValidateScreenshotDefaultPath(t *testing.T) {
	tool := testTool(t)
	req, verr := tool.validate(map[string]any{
		"actions": []any{map[string]any{"type": "screenshot"}},
	})
	if verr != "" {
		t.Fatalf("validate: %s", verr)
	}
	path := req.Actions[0].Path
	if !strings.HasPrefix(path, filepath.Join(tool.workspace, "screenshots")) {
		t.Errorf("default screenshot path = %q", path)
	}
	if !strings.HasSuffix(path, ".png") {
		t.Errorf("default screenshot path = %q", path)
	}
}

func TestStatePath(t *testing.T) {
	tool := testTool(t)
	got := tool.statePath("github")
	want := filepath.Join(tool.workspace, "browser", "state", "github.json")
	if got != want {
		t.Errorf("statePath = %q, want %q", got, want)
	}
}

func TestMissingBrowserErrorDetection(t *testing.T) {
	for _, msg := range []string{
		"Executable doesn't exist at /root/.cache/ms-playwright/chromium-1100/chrome",
		"browser has not been found",
		"Please run the following command to download new browsers",
	} {
		if !isMissingBrowserError(errorString(msg)) {
			t.Errorf("%q not detected as missing browser", msg)
		}
	}
	if isMissingBrowserError(errorString("net::ERR_CONNECTION_REFUSED")) {
		t.Error("unrelated error misclassified")
	}
	if isMissingBrowserError(nil) {
		t.Error("nil error misclassified")
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
