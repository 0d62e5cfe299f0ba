package browser

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateStateKey(t *testing.T) {
	for _, key := range []string{"default", "github-login", "a_B-9", strings.Repeat("x", 64)} {
		if err := validateStateKey(key); err != nil {
			t.Errorf("validateStateKey(%q) = %v, want nil", key, err)
		}
	}
	for _, key := range []string{"", "has space", "slash/y", "../escape", strings.Repeat("x", 65), "dot.json"} {
		if err := validateStateKey(key); err == nil {
			t.Errorf("validateStateKey(%q) = nil, want error", key)
		}
	}
}

func TestResolvePathInWorkspace(t *testing.T) {
	ws := t.TempDir()

	got, err := resolvePathInWorkspace(ws, "shots/page.png")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(ws, "shots", "page.png") {
		t.Errorf("resolved = %q", got)
	}

	if _, err := resolvePathInWorkspace(ws, "../outside.png"); err == nil {
		t.Error("relative escape must be rejected")
	}
	if _, err := resolvePathInWorkspace(ws, "/etc/passwd"); err == nil {
		t.Error("absolute path outside workspace must be rejected")
	}
	if _, err := resolvePathInWorkspace(ws, "  "); err == nil {
		t.Error("empty path must be rejected")
	}
}

func TestValidateNavigationURL(t *testing.T) {
	cases := []struct {
		url     string
		allowed bool
	}{
		{"https://example.com/page", true},
		{"http://example.com", true},
		{"about:blank", true},
		{"ftp://example.com", false},
		{"javascript:alert(1)", false},
		{"file:///etc/passwd", false},
		{"http://localhost:8080", false},
		{"http://127.0.0.1/admin", false},
		{"http://192.168.1.10", false},
		{"http://10.0.0.1", false},
		{"http://169.254.169.254/latest/meta-data", false},
		{"http://host.docker.internal", false},
		{"http://printer.local", false},
		{"http://[::1]/", false},
	}
	for _, tc := range cases {
		err := validateNavigationURL(tc.url, true, false)
		if tc.allowed && err != nil {
			t.Errorf("%s rejected: %v", tc.url, err)
		}
		if !tc.allowed && err == nil {
			t.Errorf("%s allowed, want rejection", tc.url)
		}
	}
}

func TestValidateNavigationURLAllowPrivate(t *testing.T) {
	if err := validateNavigationURL("http://localhost:3000", true, true); err != nil {
		t.Errorf("localhost with allowPrivateNetwork: %v", err)
	}
	if err := validateNavigationURL("file:///tmp/x.html", false, true); err != nil {
		t.Errorf("file url with blockFileScheme=false: %v", err)
	}
}

func TestRequestURLBlockReason(t *testing.T) {
	if reason := requestURLBlockReason("https://cdn.example.com/app.js", true, false); reason != "" {
		t.Errorf("public https blocked: %s", reason)
	}
	for _, u := range []string{"about:blank", "blob:https://example.com/uuid", "data:image/png;base64,AA=="} {
		if reason := requestURLBlockReason(u, true, false); reason != "" {
			t.Errorf("%s blocked: %s", u, reason)
		}
	}
	if reason := requestURLBlockReason("http://169.254.169.254/token", true, false); reason == "" {
		t.Error("metadata endpoint must be blocked")
	}
	if reason := requestURLBlockReason("file:///etc/hosts", true, false); reason == "" {
		t.Error("file scheme must be blocked")
	}
	if reason := requestURLBlockReason("file:///tmp/ok", false, false); reason != "" {
		t.Errorf("file scheme allowed by config but blocked: %s", reason)
	}
}

func TestIsPrivateOrLocalHost(t *testing.T) {
	private := []string{"localhost", "LOCALHOST", "localhost.localdomain", "host.docker.internal",
		"nas.local", "127.0.0.1", "10.1.2.3", "172.16.0.5", "192.168.0.1", "169.254.0.1",
		"::1", "fe80::1", "0.0.0.0", "100.64.0.1", "198.18.0.1", "240.0.0.1", ""}
	for _, h := range private {
		if !isPrivateOrLocalHost(h) {
			t.Errorf("%q should be private/local", h)
		}
	}
	public := []string{"example.com", "8.8.8.8", "1.1.1.1", "2606:4700:4700::1111"}
	for _, h := range public {
		if isPrivateOrLocalHost(h) {
			t.Errorf("%q should be public", h)
		}
	}
}
