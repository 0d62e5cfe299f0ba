package browser

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var stateKeyRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// validateStateKey checks a storage-state key used as a file name.
func validateStateKey(key string) error {
	if !stateKeyRE.MatchString(key) {
		return fmt.Errorf("invalid state_key %q (use 1-64 chars of A-Za-z0-9_-)", key)
	}
	return nil
}

// resolvePathInWorkspace resolves a screenshot/artifact path and rejects
// anything that escapes the workspace.
func resolvePathInWorkspace(workspace, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(workspace, resolved)
	}
	resolved = filepath.Clean(resolved)
	ws := filepath.Clean(workspace)
	if resolved != ws && !strings.HasPrefix(resolved, ws+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return resolved, nil
}

// validateNavigationURL checks a goto target before the browser sees it.
func validateNavigationURL(raw string, blockFileScheme, allowPrivateNetwork bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("url is required for goto")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %v", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https":
	case "file":
		if blockFileScheme {
			return fmt.Errorf("file:// URLs are blocked")
		}
		return nil
	case "about":
		return nil
	default:
		return fmt.Errorf("unsupported url scheme %q", scheme)
	}
	if !allowPrivateNetwork && isPrivateOrLocalHost(u.Hostname()) {
		return fmt.Errorf("navigation to private or local host %q is blocked", u.Hostname())
	}
	return nil
}

// requestURLBlockReason decides whether an in-page network request should be
// aborted. Empty string means allowed.
func requestURLBlockReason(raw string, blockFileScheme, allowPrivateNetwork bool) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "unparseable request url"
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https":
		if !allowPrivateNetwork && isPrivateOrLocalHost(u.Hostname()) {
			return "private or local host"
		}
		return ""
	case "about", "blob", "data":
		return ""
	case "file":
		if blockFileScheme {
			return "file scheme"
		}
		return ""
	default:
		return "scheme " + scheme
	}
}

// isPrivateOrLocalHost reports whether a hostname points at the local machine
// or a private network.
func isPrivateOrLocalHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return true
	}
	switch host {
	case "localhost", "localhost.localdomain", "host.docker.internal":
		return true
	}
	if strings.HasSuffix(host, ".local") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	// Reserved and shared ranges that net.IP helpers do not cover.
	for _, cidr := range []string{"100.64.0.0/10", "192.0.0.0/24", "198.18.0.0/15", "240.0.0.0/4"} {
		_, block, _ := net.ParseCIDR(cidr)
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
