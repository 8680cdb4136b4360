// Package channel abstracts messaging platforms behind a small adapter
// interface: webhooks in, normalized messages through, chunked replies out.
package channel

import (
	"time"

	"github.com/relaybotio/relaybot/internal/bots"
	"github.com/relaybotio/relaybot/internal/identity"
)

// UnifiedMessage is one inbound message normalized across platforms.
type UnifiedMessage struct {
	Platform   bots.Platform
	BotKey     string
	ChatID     string
	ChatType   identity.ChatType
	SenderID   string
	SenderName string
	MessageID  string
	Text       string
	Timestamp  time.Time
}

// WebhookResult is what an adapter extracts from one webhook delivery.
// Message is nil for events that carry no forwardable text (edits, joins,
// the bot's own messages). Challenge, when non-empty, must be echoed back
// verbatim as the HTTP response body.
type WebhookResult struct {
	Message   *UnifiedMessage
	Challenge string
}
