package cron

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ambergull/ambergull/internal/bus"
)

type fakeAgent struct {
	lastSessionKey string
	lastChannel    string
	lastChatID     string
	response       string
}

func (a *fakeAgent) ProcessDirect(_ context.Context, content, sessionKey, channel, chatID string) string {
	a.lastSessionKey = sessionKey
	a.lastChannel = channel
	a.lastChatID = chatID
	return a.response
}

type fakeTools struct {
	lastName string
	lastArgs map[string]any
	result   string
}

func (f *fakeTools) Execute(_ context.Context, name string, args map[string]any) string {
	f.lastName = name
	f.lastArgs = args
	return f.result
}

func systemEventJob(deliver bool) CronJob {
	ch := "telegram"
	to := "42"
	return CronJob{
		ID:   "job1",
		Name: "reminder",
		Payload: CronPayload{
			Kind: "system_event", Message: "drink water",
			Deliver: deliver, Channel: &ch, To: &to,
		},
	}
}

func TestDispatchSystemEventDelivers(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	d := NewDispatcher(nil, nil, msgBus)

	result, err := d.Dispatch(context.Background(), systemEventJob(true))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result != "drink water" {
		t.Errorf("result = %q", result)
	}

	select {
	case out := <-msgBus.OutboundChan():
		if out.Channel != "telegram" || out.ChatID != "42" || out.Content != "drink water" {
			t.Errorf("outbound = %+v", out)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no outbound message published")
	}
}

func TestDispatchSystemEventWithoutDeliver(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	d := NewDispatcher(nil, nil, msgBus)

	if _, err := d.Dispatch(context.Background(), systemEventJob(false)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	select {
	case out := <-msgBus.OutboundChan():
		t.Errorf("unexpected outbound: %+v", out)
	default:
	}
}

func TestDispatchToolCall(t *testing.T) {
	tools := &fakeTools{result: "42 files"}
	d := NewDispatcher(nil, tools, nil)

	job := CronJob{
		ID: "job2",
		Payload: CronPayload{
			Kind:     "tool_call",
			ToolName: "list_dir",
			ToolArgs: map[string]any{"path": "."},
		},
	}
	result, err := d.Dispatch(context.Background(), job)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result != "42 files" {
		t.Errorf("result = %q", result)
	}
	if tools.lastName != "list_dir" {
		t.Errorf("tool = %q", tools.lastName)
	}
}

func TestDispatchToolCallRequiresToolName(t *testing.T) {
	d := NewDispatcher(nil, &fakeTools{}, nil)
	job := CronJob{ID: "job3", Payload: CronPayload{Kind: "tool_call"}}

	_, err := d.Dispatch(context.Background(), job)
	if err == nil || !strings.Contains(err.Error(), "tool_name is required") {
		t.Errorf("err = %v", err)
	}
}

func TestDispatchAgentTurnSessionKey(t *testing.T) {
	agent := &fakeAgent{response: "done"}
	d := NewDispatcher(agent, nil, nil)

	ch := "slack"
	to := "C123"
	job := CronJob{
		ID: "deadbeef",
		Payload: CronPayload{
			Kind: "agent_turn", Message: "summarize inbox",
			Channel: &ch, To: &to,
		},
	}
	result, err := d.Dispatch(context.Background(), job)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result != "done" {
		t.Errorf("result = %q", result)
	}
	if want := fmt.Sprintf("cron:%s", job.ID); agent.lastSessionKey != want {
		t.Errorf("session key = %q, want %q", agent.lastSessionKey, want)
	}
	if agent.lastChannel != "slack" || agent.lastChatID != "C123" {
		t.Errorf("channel/chat = %q/%q", agent.lastChannel, agent.lastChatID)
	}
}

func TestDispatchUnknownPayloadKind(t *testing.T) {
	d := NewDispatcher(&fakeAgent{}, &fakeTools{}, nil)
	job := CronJob{ID: "job4", Payload: CronPayload{Kind: "webhook"}}

	if _, err := d.Dispatch(context.Background(), job); err == nil {
		t.Error("expected error for unknown payload kind")
	}
}
