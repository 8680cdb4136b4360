package bots

import (
	"context"
	"log/slog"
	"sync"
)

// Cache holds an in-memory snapshot of enabled bots keyed by bot key.
// Webhook dispatch reads from the snapshot; admin mutations call Reload
// rather than patching entries in place, so readers always see a coherent
// generation. The version counter increments on every reload.
type Cache struct {
	service *Service
	logger  *slog.Logger

	mu      sync.RWMutex
	byKey   map[string]Bot
	version uint64
}

// NewCache creates an empty cache; call Reload before first use.
func NewCache(log *slog.Logger, service *Service) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		service: service,
		logger:  log.With(slog.String("component", "bot_cache")),
		byKey:   map[string]Bot{},
	}
}

// Reload replaces the snapshot with the current set of enabled bots.
func (c *Cache) Reload(ctx context.Context) error {
	enabled, err := c.service.ListEnabled(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]Bot, len(enabled))
	for _, b := range enabled {
		next[b.BotKey] = b
	}

	c.mu.Lock()
	c.byKey = next
	c.version++
	version := c.version
	c.mu.Unlock()

	c.logger.Info("bot cache reloaded",
		slog.Int("bots", len(next)),
		slog.Uint64("version", version),
	)
	return nil
}

// Get returns the cached bot for botKey.
func (c *Cache) Get(botKey string) (Bot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byKey[botKey]
	return b, ok
}

// All returns a copy of the cached bots.
func (c *Cache) All() []Bot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Bot, 0, len(c.byKey))
	for _, b := range c.byKey {
		out = append(out, b)
	}
	return out
}

// Version returns the snapshot generation, for diagnostics.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
