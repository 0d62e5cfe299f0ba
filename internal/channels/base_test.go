package channels

import (
	"strings"
	"testing"

	"github.com/ambergull/ambergull/internal/bus"
)

func TestIsAllowed(t *testing.T) {
	b := NewBase("test", bus.NewMessageBus(1), []string{"42", "alice"})

	cases := []struct {
		sender string
		want   bool
	}{
		{"42", true},
		{"alice", true},
		{"99", false},
		{"99|alice", true}, // telegram id|username format
		{"42|bob", true},
		{"99|bob", false},
	}
	for _, tc := range cases {
		if got := b.IsAllowed(tc.sender); got != tc.want {
			t.Errorf("IsAllowed(%q) = %v, want %v", tc.sender, got, tc.want)
		}
	}

	open := NewBase("test", bus.NewMessageBus(1), nil)
	if !open.IsAllowed("anyone") {
		t.Error("empty allowlist should allow all")
	}
}

func TestHandleMessagePublishes(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	b := NewBase("test", msgBus, nil)

	b.HandleMessage("u1", "c1", "hello", []string{"/tmp/a.png"}, map[string]any{"k": "v"})

	select {
	case msg := <-msgBus.InboundChan():
		if msg.Channel != "test" || msg.SenderID != "u1" || msg.ChatID != "c1" || msg.Content != "hello" {
			t.Errorf("unexpected message: %+v", msg)
		}
		if len(msg.Media) != 1 || msg.Metadata["k"] != "v" {
			t.Errorf("media/metadata not carried: %+v", msg)
		}
	default:
		t.Fatal("no inbound message published")
	}
}

func TestHandleMessageDenied(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	b := NewBase("test", msgBus, []string{"allowed"})

	b.HandleMessage("blocked", "c1", "hello", nil, nil)

	select {
	case msg := <-msgBus.InboundChan():
		t.Fatalf("denied sender message was published: %+v", msg)
	default:
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 100); len(got) != 1 || got[0] != "short" {
		t.Errorf("short message should be one chunk: %v", got)
	}

	long := strings.Repeat("word ", 100) // 500 chars
	chunks := splitMessage(long, 120)
	if len(chunks) < 4 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 120 {
			t.Errorf("chunk %d exceeds limit: %d chars", i, len(c))
		}
	}

	// Prefers newline breaks.
	text := "line one\nline two\nline three"
	chunks = splitMessage(text, 12)
	if chunks[0] != "line one" {
		t.Errorf("expected newline break, got %q", chunks[0])
	}
}

func TestMarkdownToTelegramHTML(t *testing.T) {
	in := "# Title\n**bold** and `code` plus [link](https://example.com)\n- item"
	out := markdownToTelegramHTML(in)

	for _, want := range []string{
		"Title",
		"<b>bold</b>",
		"<code>code</code>",
		`<a href="https://example.com">link</a>`,
		"• item",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "# Title") {
		t.Errorf("header marker not stripped:\n%s", out)
	}

	block := "```go\nif a < b {}\n```"
	out = markdownToTelegramHTML(block)
	if !strings.Contains(out, "<pre><code>") || !strings.Contains(out, "if a &lt; b {}") {
		t.Errorf("code block not converted/escaped:\n%s", out)
	}
}
