// Package redact masks sensitive material (paths, endpoints, secrets,
// chat ids) in text that leaves the agent, and normalizes outbound media.
package redact

import (
	"regexp"
	"sort"
	"strings"
)

// Stable placeholders. Downstream consumers (and tests) rely on these exact
// strings, so they must never change between releases.
const (
	PlaceholderPath     = "[REDACTED_PATH]"
	PlaceholderEndpoint = "[REDACTED_ENDPOINT]"
	PlaceholderSecret   = "[REDACTED_SECRET]"
	PlaceholderChatID   = "[REDACTED_CHAT_ID]"
)

var (
	// "Chat ID: 123456" lines emitted by the system prompt.
	reChatIDLine  = regexp.MustCompile(`(?im)^(\s*chat[ _-]?id\s*[:=]\s*)(\S+)`)
	reChatIDField = regexp.MustCompile(`(?i)("chat_?id"\s*:\s*")([^"]+)(")`)

	// Session keys like "telegram:123456".
	reSessionKey = regexp.MustCompile(`\b(cli|telegram|discord|whatsapp|feishu|dingtalk|slack|email|qq):([A-Za-z0-9_\-\.]+)`)

	// key = value / key: value secret assignments.
	reKVSecret = regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|refresh[_-]?token|client[_-]?secret|authorization|token|secret|password)(["']?\s*[:=]\s*["']?)([^\s"',;]+)`)

	// Bearer tokens and well-known key formats.
	reBearer     = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._=\-]+`)
	reGenericSK  = regexp.MustCompile(`\bsk-[A-Za-z0-9._=\-]{8,}`)
	reSlackToken = regexp.MustCompile(`\b(xox[abprs]|xapp)-[A-Za-z0-9\-]+`)

	// Private / local network endpoints.
	rePrivateEndpoint = regexp.MustCompile(`(?i)\b(?:https?|ws|wss)://(?:localhost|127\.\d{1,3}\.\d{1,3}\.\d{1,3}|0\.0\.0\.0|\[?::1\]?|10\.\d{1,3}\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3}|172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}|169\.254\.\d{1,3}\.\d{1,3}|[A-Za-z0-9.-]+\.local)(?::\d+)?(?:/[^\s"']*)?`)
	rePrivateHostPort = regexp.MustCompile(`(?i)\b(?:localhost|127\.\d{1,3}\.\d{1,3}\.\d{1,3}|0\.0\.0\.0|10\.\d{1,3}\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3}|172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}|169\.254\.\d{1,3}\.\d{1,3}):\d+\b`)

	// Absolute filesystem paths.
	reHomeDotDirPath = regexp.MustCompile(`~[/\\]\.[A-Za-z0-9_\-]+(?:[/\\][^\s"':;,]*)?`)
	reWindowsAbsPath = regexp.MustCompile(`\b[A-Za-z]:\\[^\s"':;,]+`)
	reUnixAbsPath    = regexp.MustCompile(`/(?:home|Users|root|etc|var|opt|tmp)(?:/[A-Za-z0-9._\-]+)+`)
)

// Redactor applies a fixed, ordered pipeline of substitutions. The zero
// value is usable and applies only the generic pattern rules.
type Redactor struct {
	secretLiterals   []string // api keys etc., longest first
	endpointLiterals []string // api bases etc., longest first
	pathLiterals     []string // workspace, config path, longest first
	chatIDLiterals   []string // known chat ids, longest first
}

// Options carries the literal values known at startup.
type Options struct {
	Workspace  string
	ConfigPath string
	Secrets    []string // provider api keys, bot tokens
	Endpoints  []string // provider api bases, bridge URLs
	ChatIDs    []string
}

// New builds a Redactor from the given options. Empty and too-short literal
// values are dropped so the pipeline never masks trivial substrings.
func New(opts Options) *Redactor {
	r := &Redactor{}
	r.pathLiterals = cleanLiterals([]string{opts.Workspace, opts.ConfigPath})
	r.secretLiterals = cleanLiterals(opts.Secrets)
	r.endpointLiterals = cleanLiterals(opts.Endpoints)
	r.chatIDLiterals = cleanLiterals(opts.ChatIDs)
	return r
}

// cleanLiterals drops empties/short strings and sorts longest-first so a
// longer literal is always masked before any of its substrings.
func cleanLiterals(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if len(s) >= 4 {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// Redact masks sensitive material in text. The rule order matters: literal
// substitutions run before pattern rules so a partially-masked literal can
// never shadow a later pattern, and the result is idempotent —
// Redact(Redact(x)) == Redact(x).
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}

	// 1. Known literals, longest first.
	for _, lit := range r.secretLiterals {
		text = strings.ReplaceAll(text, lit, PlaceholderSecret)
	}
	for _, lit := range r.endpointLiterals {
		text = strings.ReplaceAll(text, lit, PlaceholderEndpoint)
	}
	for _, lit := range r.pathLiterals {
		text = strings.ReplaceAll(text, lit, PlaceholderPath)
	}
	for _, lit := range r.chatIDLiterals {
		text = strings.ReplaceAll(text, lit, PlaceholderChatID)
	}

	// 2. Chat-id lines and fields, then session-key patterns.
	text = reChatIDLine.ReplaceAllString(text, "${1}"+PlaceholderChatID)
	text = reChatIDField.ReplaceAllString(text, "${1}"+PlaceholderChatID+"${3}")
	text = reSessionKey.ReplaceAllString(text, "${1}:"+PlaceholderChatID)

	// 3. Key/value secret assignments and token formats.
	text = reKVSecret.ReplaceAllStringFunc(text, func(m string) string {
		sub := reKVSecret.FindStringSubmatch(m)
		// Leave "Authorization: Bearer …" to the Bearer rule below, and
		// already-masked values alone (idempotency).
		if sub[3] == PlaceholderSecret || strings.EqualFold(sub[3], "Bearer") {
			return m
		}
		return sub[1] + sub[2] + PlaceholderSecret
	})
	text = reBearer.ReplaceAllString(text, "Bearer "+PlaceholderSecret)
	text = reGenericSK.ReplaceAllString(text, PlaceholderSecret)
	text = reSlackToken.ReplaceAllString(text, PlaceholderSecret)

	// 4. Private endpoints, then absolute paths.
	text = rePrivateEndpoint.ReplaceAllString(text, PlaceholderEndpoint)
	text = rePrivateHostPort.ReplaceAllString(text, PlaceholderEndpoint)
	text = reHomeDotDirPath.ReplaceAllString(text, PlaceholderPath)
	text = reWindowsAbsPath.ReplaceAllString(text, PlaceholderPath)
	text = reUnixAbsPath.ReplaceAllString(text, PlaceholderPath)

	return text
}
