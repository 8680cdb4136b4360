// Package identity derives the logical conversation owner from raw platform identifiers.
package identity

import "strings"

// ChatType classifies a conversation as private (one-on-one) or group.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// ParseChatType normalizes platform-specific conversation type strings.
// Anything that is not recognizably one-on-one is treated as a group, since
// a shared context is the safe default for multi-party conversations.
func ParseChatType(raw string) ChatType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "private", "p2p", "single", "dm", "im":
		return ChatTypePrivate
	default:
		return ChatTypeGroup
	}
}

// EffectiveOwner returns the partition key for session and lock scope.
// Group conversations share one owner (the chat itself) so every participant
// talks to the same downstream session; private conversations are keyed by
// the sender. Every component that partitions state by conversation must use
// this value, never the raw sender id.
func EffectiveOwner(rawSenderID, chatID string, chatType ChatType) string {
	if chatType == ChatTypeGroup {
		return chatID
	}
	return rawSenderID
}
