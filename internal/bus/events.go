// Package bus defines the message types that flow between channels and the agent.
package bus

import "time"

// InboundMessage is a message received from a chat channel.
type InboundMessage struct {
	Channel   string         // "telegram", "slack", "whatsapp", "cli", "system", …
	SenderID  string         // user identifier within the channel
	ChatID    string         // chat / channel / DM identifier
	Content   string         // message text
	Timestamp time.Time      // when the message was received
	Media     []string       // local file paths of downloaded attachments
	Metadata  map[string]any // channel-specific extra data (message_id, username, …)

	// SessionKeyOverride forces a specific session key (cron, CLI). Empty
	// means derive the key from Channel and ChatID.
	SessionKeyOverride string
}

// NewInboundMessage constructs an InboundMessage with the timestamp set to now.
func NewInboundMessage(channel, senderID, chatID, content string) InboundMessage {
	return InboundMessage{
		Channel:   channel,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  map[string]any{},
	}
}

// SessionKey returns the unique key used to look up the conversation session.
// Format: "channel:chat_id" unless overridden.
func (m InboundMessage) SessionKey() string {
	if m.SessionKeyOverride != "" {
		return m.SessionKeyOverride
	}
	return m.Channel + ":" + m.ChatID
}

// ContentPreview returns a short snippet of the message content for logging.
func (m InboundMessage) ContentPreview() string {
	preview := m.Content
	if len(preview) > 80 {
		preview = preview[:80] + "..."
	}
	return preview
}

// OutboundMessage is a response to be sent back through a channel.
type OutboundMessage struct {
	Channel  string         // destination channel name
	ChatID   string         // destination chat / channel / DM identifier
	Content  string         // text to send
	ReplyTo  string         // original message ID to quote/reply to (optional)
	Media    []string       // local file paths to attach (optional)
	Metadata map[string]any // channel-specific hints (thread_ts, parse_mode, …)
}

// NewOutboundMessage constructs an OutboundMessage.
func NewOutboundMessage(channel, chatID, content string) OutboundMessage {
	return OutboundMessage{
		Channel:  channel,
		ChatID:   chatID,
		Content:  content,
		Metadata: map[string]any{},
	}
}
