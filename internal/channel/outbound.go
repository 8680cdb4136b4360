package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/relaybotio/relaybot/internal/bots"
)

// ChunkText splits text into pieces no longer than limit runes, preferring
// line boundaries and falling back to hard splits for oversized lines.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	lines := strings.Split(trimmed, "\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(lines))
	bufLen := 0
	for _, line := range lines {
		lineLen := runeLen(line)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 1
		}
		if bufLen+sepLen+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sepLen + lineLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf = buf[:0]
			bufLen = 0
		}
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitLongLine(line, limit)...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n"))
	}
	return chunks
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	if limit <= 0 {
		return []string{line}
	}
	runes := []rune(line)
	chunks := make([]string, 0)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment == "" {
			continue
		}
		chunks = append(chunks, segment)
	}
	return chunks
}

// Deliverer sends replies: it chunks text to the platform limit and paces
// sends per chat so platform flood limits are respected.
type Deliverer struct {
	registry *Registry
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDeliverer creates a deliverer over the adapter registry.
func NewDeliverer(log *slog.Logger, registry *Registry) *Deliverer {
	if log == nil {
		log = slog.Default()
	}
	return &Deliverer{
		registry: registry,
		logger:   log.With(slog.String("component", "deliverer")),
		limiters: map[string]*rate.Limiter{},
	}
}

// Deliver sends text to chatID via the bot's platform adapter.
func (d *Deliverer) Deliver(ctx context.Context, bot bots.Bot, chatID, text string) error {
	adapter, ok := d.registry.Get(bot.Platform)
	if !ok {
		return fmt.Errorf("no adapter for platform %q", bot.Platform)
	}
	limiter := d.limiterFor(string(bot.Platform) + ":" + chatID)
	for _, chunk := range ChunkText(text, adapter.ChunkLimit()) {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := adapter.Send(ctx, bot, chatID, chunk); err != nil {
			return fmt.Errorf("send via %s: %w", bot.Platform, err)
		}
	}
	return nil
}

// One message per second per chat with a small burst covers every
// platform's per-chat flood limit.
func (d *Deliverer) limiterFor(key string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 3)
		d.limiters[key] = l
	}
	return l
}
