package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ambergull/ambergull/internal/schema"
)

const (
	consolidRunning uint8 = 1
	consolidQueued  uint8 = 2
)

// MemoryCompactor runs memory consolidation in the background, at most one
// run per session key at a time. A Schedule call during a running
// consolidation queues exactly one follow-up run.
type MemoryCompactor struct {
	store        schema.MemoryStore
	saver        schema.SessionSaver
	provider     schema.LLMProvider
	model        string
	memoryWindow int

	mu            sync.Mutex
	consolidating map[string]uint8
}

func NewMemoryCompactor(store schema.MemoryStore, saver schema.SessionSaver, provider schema.LLMProvider, model string, memoryWindow int) *MemoryCompactor {
	return &MemoryCompactor{
		store:         store,
		saver:         saver,
		provider:      provider,
		model:         model,
		memoryWindow:  memoryWindow,
		consolidating: make(map[string]uint8),
	}
}

// MemoryWindow returns the configured consolidation window.
func (c *MemoryCompactor) MemoryWindow() int { return c.memoryWindow }

// InFlight reports whether a consolidation for key is running or queued.
func (c *MemoryCompactor) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consolidating[key] != 0
}

// Schedule starts a background consolidation for the session. If one is
// already running for the same key the request is coalesced into a single
// queued follow-up.
func (c *MemoryCompactor) Schedule(key string, sess schema.ConsolidatableSession, archiveAll bool) {
	c.mu.Lock()
	if c.consolidating[key] != 0 {
		c.consolidating[key] = consolidQueued
		c.mu.Unlock()
		return
	}
	c.consolidating[key] = consolidRunning
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.consolidating, key)
			c.mu.Unlock()
		}()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			err := c.store.Consolidate(ctx, sess, c.saver, c.provider, c.model, archiveAll, c.memoryWindow)
			cancel()
			if err != nil {
				slog.Error("background memory consolidation failed", "session", key, "err", err)
			}

			c.mu.Lock()
			if c.consolidating[key] == consolidQueued {
				c.consolidating[key] = consolidRunning
				c.mu.Unlock()
				continue
			}
			c.mu.Unlock()
			return
		}
	}()
}

// CompactNow consolidates synchronously. Used by /new where the caller must
// know whether archival succeeded before clearing the session.
func (c *MemoryCompactor) CompactNow(ctx context.Context, sess schema.ConsolidatableSession, archiveAll bool) error {
	return c.store.Consolidate(ctx, sess, c.saver, c.provider, c.model, archiveAll, c.memoryWindow)
}
