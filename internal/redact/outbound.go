package redact

import (
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// OutboundPolicy applies redaction and media-path normalization to every
// message leaving the agent.
type OutboundPolicy struct {
	workspace string
	redactor  *Redactor
	enabled   bool
}

// NewOutboundPolicy creates an OutboundPolicy. When enabled is false the
// policy still normalizes media but leaves content untouched.
func NewOutboundPolicy(workspace string, r *Redactor, enabled bool) *OutboundPolicy {
	return &OutboundPolicy{workspace: workspace, redactor: r, enabled: enabled}
}

// RedactText masks content when redaction is enabled.
func (p *OutboundPolicy) RedactText(text string) string {
	if !p.enabled || p.redactor == nil {
		return text
	}
	return p.redactor.Redact(text)
}

// NormalizeMedia resolves each media reference to an absolute path. For each
// entry the candidates are tried in order: the path as-is (absolute), the
// process CWD, the workspace with a literal "workspace/" prefix stripped,
// and the workspace itself. The first candidate that exists as a regular
// file wins; otherwise the workspace-relative resolution is kept so the
// channel can report a sensible missing-file error.
func (p *OutboundPolicy) NormalizeMedia(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, 0, len(paths))
	for _, raw := range paths {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		out = append(out, p.normalizeOne(raw))
	}
	return out
}

func (p *OutboundPolicy) normalizeOne(raw string) string {
	var candidates []string

	if filepath.IsAbs(raw) {
		candidates = append(candidates, filepath.Clean(raw))
	} else {
		if cwd, err := os.Getwd(); err == nil {
			candidates = append(candidates, filepath.Join(cwd, raw))
		}
		if stripped, ok := strings.CutPrefix(raw, "workspace/"); ok {
			candidates = append(candidates, filepath.Join(p.workspace, stripped))
		}
		candidates = append(candidates, filepath.Join(p.workspace, raw))
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c
		}
	}

	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Join(p.workspace, raw)
}

// Apply returns redacted content and normalized media for an outbound
// message. Callers construct the new message themselves so this package does
// not depend on the bus types.
func (p *OutboundPolicy) Apply(content string, media []string) (string, []string) {
	return p.RedactText(content), p.NormalizeMedia(media)
}

// ---------------------------------------------------------------------------
// Recent-image carry-over
//
// When a user sends an image, follow-up questions usually refer to it. The
// image path is remembered in the session metadata and re-attached for the
// next two turns.

const recentImageKey = "_recent_image_context"

// ExtractLatestImage returns the most recent image path in media, or "".
func ExtractLatestImage(media []string) string {
	for i := len(media) - 1; i >= 0; i-- {
		mimeType := mime.TypeByExtension(filepath.Ext(media[i]))
		if strings.HasPrefix(mimeType, "image/") {
			return media[i]
		}
	}
	return ""
}

// RememberRecentImage records path in metadata with two follow-up turns left.
func RememberRecentImage(metadata map[string]any, path string) {
	metadata[recentImageKey] = map[string]any{
		"path":       path,
		"turns_left": float64(2),
	}
}

// ConsumeRecentImage returns the remembered image path if any turns remain,
// decrementing the counter and dropping the entry once exhausted.
func ConsumeRecentImage(metadata map[string]any) string {
	entry, ok := metadata[recentImageKey].(map[string]any)
	if !ok {
		return ""
	}
	path, _ := entry["path"].(string)
	turns, _ := entry["turns_left"].(float64)
	if path == "" || turns <= 0 {
		delete(metadata, recentImageKey)
		return ""
	}

	turns--
	if turns <= 0 {
		delete(metadata, recentImageKey)
	} else {
		entry["turns_left"] = turns
	}
	return path
}
