package session

import "time"

// Scope identifies one conversation: the effective owner, the platform chat,
// and the bot the message arrived through. All store operations are scoped by it.
type Scope struct {
	OwnerKey string
	ChatID   string
	BotKey   string
}

// Session is one conversation thread with the downstream agent.
// SessionID stays empty until the first successful forward attaches the id
// assigned by the agent; ShortID is its first 8 characters, used for
// human-addressable switching.
type Session struct {
	ID               string
	OwnerKey         string
	ChatID           string
	BotKey           string
	SessionID        string
	ShortID          string
	CurrentProjectID string
	IsActive         bool
	MessageCount     int
	LastMessage      string
	LastMessageAt    time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const (
	// shortIDLen is how many leading characters of a downstream session id
	// form the human-addressable short id.
	shortIDLen = 8

	// maxSnippetLen caps the stored last-message snippet.
	maxSnippetLen = 200

	// DefaultListLimit is used when a listing is requested without a limit.
	DefaultListLimit = 10
)

// ShortID derives the short id from a downstream session id.
func ShortID(sessionID string) string {
	return truncate(sessionID, shortIDLen)
}

// Snippet truncates message text to the stored snippet length.
func Snippet(text string) string {
	return truncate(text, maxSnippetLen)
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
