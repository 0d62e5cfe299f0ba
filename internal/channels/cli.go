package channels

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ambergull/ambergull/internal/bus"
)

var cliExitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

// CLIChannel wires the terminal (stdin/stdout) into the channel manager so
// that interactive console input reaches the agent and replies are printed
// back to stdout. Replies are handed over by the manager via Send.
type CLIChannel struct {
	Base
	replies chan bus.OutboundMessage
}

// NewCLIChannel creates a CLIChannel.
func NewCLIChannel(msgBus *bus.MessageBus) *CLIChannel {
	return &CLIChannel{
		Base:    NewBase(string(bus.ChannelCLI), msgBus, nil),
		replies: make(chan bus.OutboundMessage, 16),
	}
}

func (c *CLIChannel) Name() string { return string(bus.ChannelCLI) }

// Start runs the stdin REPL: reads lines, dispatches them to the agent via
// the inbound bus, and prints each reply. Blocks until ctx is cancelled or
// stdin is closed.
func (c *CLIChannel) Start(ctx context.Context) error {
	fmt.Printf("CLI channel ready. Type 'exit' or press Ctrl+C to quit.\n\n")

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")

		scanDone := make(chan bool, 1)
		go func() {
			scanDone <- scanner.Scan()
		}()

		select {
		case ok := <-scanDone:
			if !ok {
				fmt.Println("\nGoodbye!")
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if cliExitCommands[strings.ToLower(line)] {
			fmt.Println("Goodbye!")
			return nil
		}

		c.HandleMessage("user", "direct", line, nil, nil)
		c.waitForReply(ctx)
	}
}

// waitForReply blocks until the agent's final (non-progress) reply arrives,
// printing progress lines along the way. An empty final reply is the
// completion signal emitted when the message tool already answered.
func (c *CLIChannel) waitForReply(ctx context.Context) {
	for {
		select {
		case msg := <-c.replies:
			if isProgress, _ := msg.Metadata["_progress"].(bool); isProgress {
				fmt.Printf("  ↳ %s\n", msg.Content)
				continue
			}
			if msg.Content != "" {
				fmt.Printf("\nAgent: %s\n\n", msg.Content)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// Send queues an outbound agent reply for the REPL loop to print.
func (c *CLIChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	select {
	case c.replies <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
