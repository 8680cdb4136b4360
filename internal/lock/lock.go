// Package lock implements durable mutual exclusion backed by a unique
// database constraint, so it holds across service instances sharing one store.
package lock

import (
	"time"
)

// Lock is one processing_locks row. Its existence means a forward is in
// flight for Key; its absence means the conversation is free.
type Lock struct {
	ID         int64
	Key        string
	OwnerKey   string
	ChatID     string
	BotKey     string
	Message    string
	AcquiredAt time.Time
}

const (
	// maxMessageLen caps the diagnostic message snapshot stored with a lock.
	maxMessageLen = 500

	// DefaultStaleThreshold is the crash-recovery backstop. It must exceed
	// every per-route forward timeout; a holder younger than this is assumed
	// to still be working.
	DefaultStaleThreshold = 5 * time.Minute
)

// ComputeKey derives the mutual-exclusion key for a conversation. Once a
// downstream session id exists it locks the actual agent conversation; before
// that, the owner+bot composite prevents two near-simultaneous first messages
// from minting separate downstream sessions.
func ComputeKey(sessionID, ownerKey, botKey string) string {
	if sessionID != "" {
		return sessionID
	}
	return ownerKey + ":" + botKey
}

// Age returns how long the lock has been held.
func (l Lock) Age() time.Duration {
	return time.Since(l.AcquiredAt)
}

// Stale reports whether a lock acquired at acquiredAt has exceeded threshold as of now.
func Stale(acquiredAt, now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	return now.Sub(acquiredAt) > threshold
}

func truncateMessage(text string) string {
	runes := []rune(text)
	if len(runes) <= maxMessageLen {
		return text
	}
	return string(runes[:maxMessageLen])
}
