package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/relaybotio/relaybot/internal/bots"
)

// ErrVerificationFailed means a webhook delivery could not be authenticated.
var ErrVerificationFailed = errors.New("webhook verification failed")

// Adapter is one platform integration. Implementations parse that platform's
// webhook payloads into UnifiedMessage and deliver outbound text.
type Adapter interface {
	Platform() bots.Platform

	// VerifyWebhook authenticates a delivery using the bot's credentials.
	VerifyWebhook(bot bots.Bot, header http.Header, body []byte) error

	// ParseWebhook extracts a normalized message (or a challenge) from body.
	ParseWebhook(bot bots.Bot, body []byte) (WebhookResult, error)

	// Send delivers one chunk of text to a chat.
	Send(ctx context.Context, bot bots.Bot, chatID, text string) error

	// ChunkLimit is the platform's maximum message length in runes.
	ChunkLimit() int
}

// Registry maps platforms to adapters. The set is fixed at construction;
// there is no runtime registration surface.
type Registry struct {
	mu       sync.RWMutex
	adapters map[bots.Platform]Adapter
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: map[bots.Platform]Adapter{}}
	for _, a := range adapters {
		if a == nil {
			return nil, errors.New("adapter is nil")
		}
		p := normalizePlatform(a.Platform())
		if p == "" {
			return nil, errors.New("adapter platform is required")
		}
		if _, exists := r.adapters[p]; exists {
			return nil, fmt.Errorf("platform already registered: %s", p)
		}
		r.adapters[p] = a
	}
	return r, nil
}

// MustRegistry builds a registry and panics on error; for wiring code.
func MustRegistry(adapters ...Adapter) *Registry {
	r, err := NewRegistry(adapters...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the adapter for a platform.
func (r *Registry) Get(platform bots.Platform) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[normalizePlatform(platform)]
	return a, ok
}

// Platforms returns all registered platforms.
func (r *Registry) Platforms() []bots.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]bots.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}

func normalizePlatform(p bots.Platform) bots.Platform {
	return bots.Platform(strings.TrimSpace(strings.ToLower(string(p))))
}
