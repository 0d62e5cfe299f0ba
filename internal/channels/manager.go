package channels

import (
	"context"
	"log/slog"

	"github.com/ambergull/ambergull/internal/bus"
	"github.com/ambergull/ambergull/internal/config"
	"github.com/ambergull/ambergull/internal/redact"
	"github.com/ambergull/ambergull/internal/schema"
)

// Manager owns all enabled channels and routes outbound messages.
// Every message leaving the process passes through the outbound policy here,
// regardless of which code path produced it.
type Manager struct {
	channels     map[string]schema.Channel
	bus          *bus.MessageBus
	policy       *redact.OutboundPolicy
	sendProgress bool
}

// NewManager creates a Manager and initialises all enabled channels.
// The CLIChannel is always registered.
func NewManager(cfg *config.Config, msgBus *bus.MessageBus, policy *redact.OutboundPolicy) *Manager {
	m := &Manager{
		channels:     make(map[string]schema.Channel),
		bus:          msgBus,
		policy:       policy,
		sendProgress: cfg.Channels.SendProgress,
	}

	cli := NewCLIChannel(msgBus)
	m.channels[cli.Name()] = cli
	slog.Info("channel enabled", "name", cli.Name())

	if cfg.Channels.Telegram.Enabled {
		ch := NewTelegramChannel(&cfg.Channels.Telegram, msgBus)
		m.channels[ch.Name()] = ch
		slog.Info("channel enabled", "name", ch.Name())
	}
	if cfg.Channels.Slack.Enabled {
		ch := NewSlackChannel(&cfg.Channels.Slack, msgBus)
		m.channels[ch.Name()] = ch
		slog.Info("channel enabled", "name", ch.Name())
	}
	if cfg.Channels.WhatsApp.Enabled {
		ch := NewWhatsAppChannel(&cfg.Channels.WhatsApp, msgBus)
		m.channels[ch.Name()] = ch
		slog.Info("channel enabled", "name", ch.Name())
	}

	return m
}

// EnabledChannels returns the names of all enabled channels.
func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for n := range m.channels {
		names = append(names, n)
	}
	return names
}

// StartAll starts all channels concurrently and dispatches outbound messages.
// Blocks until ctx is cancelled.
func (m *Manager) StartAll(ctx context.Context) error {
	go m.dispatchOutbound(ctx)

	for name, ch := range m.channels {
		go func(n string, c schema.Channel) {
			slog.Info("starting channel", "name", n)
			if err := c.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("channel exited with error", "name", n, "err", err)
			}
		}(name, ch)
	}

	<-ctx.Done()
	return ctx.Err()
}

// dispatchOutbound reads from the outbound queue and routes each message to
// the owning channel's Send method, applying the outbound policy first.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-m.bus.OutboundChan():
			ch, ok := m.channels[msg.Channel]
			if !ok {
				slog.Debug("unknown channel for outbound message", "channel", msg.Channel)
				continue
			}

			// Progress updates stay on the CLI unless explicitly enabled.
			if isProgress, _ := msg.Metadata["_progress"].(bool); isProgress &&
				!m.sendProgress && msg.Channel != string(bus.ChannelCLI) {
				continue
			}

			msg.Content, msg.Media = m.policy.Apply(msg.Content, msg.Media)

			if err := ch.Send(ctx, msg); err != nil {
				slog.Error("send error", "channel", msg.Channel, "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
