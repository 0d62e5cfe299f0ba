package bus

import "time"

// ChannelType identifies the kind of channel a message belongs to.
type ChannelType string

const (
	ChannelTelegram  ChannelType = "telegram"
	ChannelSlack     ChannelType = "slack"
	ChannelWhatsApp  ChannelType = "whatsapp"
	ChannelCLI       ChannelType = "cli"
	ChannelCron      ChannelType = "cron"
	ChannelHeartbeat ChannelType = "heartbeat"
	ChannelSystem    ChannelType = "system"
)

// MessageBus is the in-process transport between chat channels and the agent,
// backed by a pair of bounded FIFO queues.
//
// Channels push InboundMessages; the agent loop is the single inbound
// consumer. The agent pushes OutboundMessages back; the channel manager
// consumes them. Both directions use buffered Go channels so senders never
// block on a momentarily slow consumer.
type MessageBus struct {
	inbound  chan InboundMessage  // channels -> agent
	outbound chan OutboundMessage // agent -> channels
}

// NewMessageBus creates a MessageBus with the given queue capacity per
// direction. bufSize <= 0 falls back to 100.
func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 100
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, bufSize),
		outbound: make(chan OutboundMessage, bufSize),
	}
}

// PublishInbound delivers a message from a channel to the agent.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// PublishOutbound delivers a response from the agent to a channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// ConsumeInbound blocks for up to timeout waiting for the next inbound
// message. The second return value is false when the timeout elapsed with no
// message, letting the agent loop check its stop flag at a steady cadence.
func (b *MessageBus) ConsumeInbound(timeout time.Duration) (InboundMessage, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-b.inbound:
		return msg, true
	case <-timer.C:
		return InboundMessage{}, false
	}
}

// ConsumeOutbound blocks until the next outbound message is available.
func (b *MessageBus) ConsumeOutbound() OutboundMessage {
	return <-b.outbound
}

// InboundChan returns a receive-only view of the inbound queue for
// select-based consumers.
func (b *MessageBus) InboundChan() <-chan InboundMessage {
	return b.inbound
}

// OutboundChan returns a receive-only view of the outbound queue for
// select-based consumers.
func (b *MessageBus) OutboundChan() <-chan OutboundMessage {
	return b.outbound
}
