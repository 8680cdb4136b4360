// Package command parses the in-chat control commands that manage sessions
// without leaving the conversation.
package command

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/relaybotio/relaybot/internal/session"
)

// Kind of a recognized command.
type Kind int

const (
	// KindNone means the text is a normal message, not a command.
	KindNone Kind = iota
	// KindList shows the conversation's recent sessions.
	KindList
	// KindReset deactivates the current session.
	KindReset
	// KindSwitch activates a session by short id, optionally forwarding a
	// message to it right away.
	KindSwitch
	// KindHelp prints usage.
	KindHelp
	// KindUnknown is a slash prefix that matched no command.
	KindUnknown
)

// Command is one parsed control command.
type Command struct {
	Kind    Kind
	ShortID string // KindSwitch only
	Message string // KindSwitch only, may be empty
}

var (
	listRe   = regexp.MustCompile(`^/(sess|s)\s*$`)
	resetRe  = regexp.MustCompile(`^/(reset|r)\s*$`)
	switchRe = regexp.MustCompile(`^/(change|c)\s+([a-f0-9]{6,8})(?:\s+(.+))?$`)
	helpRe   = regexp.MustCompile(`^/(help|h)\s*$`)
)

// Parse recognizes a control command in text. Text that does not start with a
// slash is never a command; an unrecognized slash command is reported as
// KindUnknown so the caller can answer with usage instead of forwarding it.
func Parse(text string) Command {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: KindNone}
	}
	switch {
	case listRe.MatchString(trimmed):
		return Command{Kind: KindList}
	case resetRe.MatchString(trimmed):
		return Command{Kind: KindReset}
	case helpRe.MatchString(trimmed):
		return Command{Kind: KindHelp}
	}
	if m := switchRe.FindStringSubmatch(trimmed); m != nil {
		return Command{Kind: KindSwitch, ShortID: m[2], Message: m[3]}
	}
	return Command{Kind: KindUnknown}
}

// HelpText is the usage reply for /help and unknown commands.
const HelpText = `Session commands:
/sess (/s) - list recent sessions
/reset (/r) - start a fresh session
/change <id> [message] (/c) - switch to a session by its short id
/help - show this help`

// FormatSessionList renders sessions for display in chat, newest first.
func FormatSessionList(sessions []session.Session) string {
	if len(sessions) == 0 {
		return "No sessions yet. Send a message to start one."
	}
	var b strings.Builder
	b.WriteString("Recent sessions:\n")
	for _, s := range sessions {
		marker := "  "
		if s.IsActive {
			marker = "* "
		}
		short := s.ShortID
		if short == "" {
			short = session.ShortID(s.SessionID)
		}
		if short == "" {
			short = "(pending)"
		}
		fmt.Fprintf(&b, "%s%s  %d msgs  %s", marker, short, s.MessageCount, relativeTime(s.UpdatedAt))
		if snippet := s.LastMessage; snippet != "" {
			line := snippet
			if idx := strings.IndexByte(line, '\n'); idx >= 0 {
				line = line[:idx]
			}
			if len([]rune(line)) > 40 {
				line = string([]rune(line)[:40]) + "…"
			}
			fmt.Fprintf(&b, "\n    %s", line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nSwitch with /change <id>")
	return b.String()
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
