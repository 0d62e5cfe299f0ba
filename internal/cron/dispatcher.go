package cron

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ambergull/ambergull/internal/bus"
)

// ToolExecutor runs a named tool with validated arguments.
// Implemented by tools.ToolList.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) string
}

// AgentRunner processes a direct agent turn outside the bus.
// Implemented by agent.AgentLoop.
type AgentRunner interface {
	ProcessDirect(ctx context.Context, content, sessionKey, channel, chatID string) string
}

// Dispatcher routes fired cron jobs to the agent, the tool registry, or
// straight to an outbound channel depending on the payload kind.
type Dispatcher struct {
	agent AgentRunner
	tools ToolExecutor
	bus   *bus.MessageBus
}

// NewDispatcher wires a dispatcher; any of the collaborators may be nil when
// the host does not support that payload kind.
func NewDispatcher(agent AgentRunner, tools ToolExecutor, msgBus *bus.MessageBus) *Dispatcher {
	return &Dispatcher{agent: agent, tools: tools, bus: msgBus}
}

// Dispatch executes one fired job and returns the result text recorded in
// the job state. Matches OnJobFunc so it can be passed to Service.SetOnJob.
func (d *Dispatcher) Dispatch(ctx context.Context, job CronJob) (string, error) {
	switch job.Payload.Kind {
	case "system_event":
		d.deliver(job, job.Payload.Message)
		return job.Payload.Message, nil

	case "tool_call":
		if job.Payload.ToolName == "" {
			return "", fmt.Errorf("tool_name is required for tool_call payload")
		}
		if d.tools == nil {
			return "", fmt.Errorf("no tool registry available")
		}
		result := d.tools.Execute(ctx, job.Payload.ToolName, job.Payload.ToolArgs)
		d.deliver(job, result)
		return result, nil

	case "agent_turn", "":
		if d.agent == nil {
			return "", fmt.Errorf("no agent available")
		}
		channel := ""
		if job.Payload.Channel != nil {
			channel = *job.Payload.Channel
		}
		chatID := ""
		if job.Payload.To != nil {
			chatID = *job.Payload.To
		}
		sessionKey := fmt.Sprintf("cron:%s", job.ID)
		response := d.agent.ProcessDirect(ctx, job.Payload.Message, sessionKey, channel, chatID)
		d.deliver(job, response)
		return response, nil

	default:
		return "", fmt.Errorf("unknown payload kind %q", job.Payload.Kind)
	}
}

// deliver pushes text to the job's configured (channel, to) when the payload
// asks for delivery.
func (d *Dispatcher) deliver(job CronJob, text string) {
	if !job.Payload.Deliver || text == "" || d.bus == nil {
		return
	}
	if job.Payload.Channel == nil || job.Payload.To == nil {
		slog.Warn("cron: deliver requested without channel/to", "job", job.ID)
		return
	}
	d.bus.PublishOutbound(bus.NewOutboundMessage(*job.Payload.Channel, *job.Payload.To, text))
}
