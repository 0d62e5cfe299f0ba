package bus

import (
	"testing"
	"time"
)

func TestInboundSessionKey(t *testing.T) {
	msg := NewInboundMessage("telegram", "u1", "999", "hi")
	if got := msg.SessionKey(); got != "telegram:999" {
		t.Errorf("SessionKey = %q, want %q", got, "telegram:999")
	}

	msg.SessionKeyOverride = "cron:job42"
	if got := msg.SessionKey(); got != "cron:job42" {
		t.Errorf("SessionKey with override = %q, want %q", got, "cron:job42")
	}
}

func TestPublishConsumeFIFO(t *testing.T) {
	b := NewMessageBus(10)

	b.PublishInbound(NewInboundMessage("cli", "u", "direct", "first"))
	b.PublishInbound(NewInboundMessage("cli", "u", "direct", "second"))

	m1, ok := b.ConsumeInbound(time.Second)
	if !ok || m1.Content != "first" {
		t.Fatalf("ConsumeInbound #1 = (%q, %v), want (first, true)", m1.Content, ok)
	}
	m2, ok := b.ConsumeInbound(time.Second)
	if !ok || m2.Content != "second" {
		t.Fatalf("ConsumeInbound #2 = (%q, %v), want (second, true)", m2.Content, ok)
	}
}

func TestConsumeInboundTimeout(t *testing.T) {
	b := NewMessageBus(1)

	start := time.Now()
	_, ok := b.ConsumeInbound(20 * time.Millisecond)
	if ok {
		t.Fatal("ConsumeInbound on empty bus returned a message")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("ConsumeInbound returned after %v, want >= 20ms", elapsed)
	}
}

func TestOutboundRoundTrip(t *testing.T) {
	b := NewMessageBus(1)

	out := NewOutboundMessage("telegram", "999", "done")
	out.Media = []string{"/tmp/a.png"}
	b.PublishOutbound(out)

	got := b.ConsumeOutbound()
	if got.Channel != "telegram" || got.ChatID != "999" || got.Content != "done" {
		t.Errorf("ConsumeOutbound = %+v", got)
	}
	if len(got.Media) != 1 || got.Media[0] != "/tmp/a.png" {
		t.Errorf("media not preserved: %v", got.Media)
	}
}
