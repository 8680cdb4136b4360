package session

import (
	"strings"
	"testing"
)

func TestShortID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sessionID string
		want      string
	}{
		{"a1b2c3d4e5f6", "a1b2c3d4"},
		{"a1b2c3d4", "a1b2c3d4"},
		{"abc", "abc"},
		{"", ""},
		// Ids are ASCII in practice, but truncation must not split runes.
		{"αβγδεζηθικλ", "αβγδεζηθ"},
	}
	for _, tt := range tests {
		if got := ShortID(tt.sessionID); got != tt.want {
			t.Errorf("ShortID(%q) = %q, want %q", tt.sessionID, got, tt.want)
		}
	}
}

func TestSnippet_Truncation(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 500)
	got := Snippet(long)
	if len(got) != 200 {
		t.Fatalf("Snippet length = %d, want 200", len(got))
	}
}

func TestSnippet_ShortTextUnchanged(t *testing.T) {
	t.Parallel()
	if got := Snippet("hello"); got != "hello" {
		t.Fatalf("Snippet(hello) = %q", got)
	}
}

func TestSnippet_MultibyteSafe(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("你好", 150)
	got := Snippet(long)
	if runeCount := len([]rune(got)); runeCount != 200 {
		t.Fatalf("Snippet rune count = %d, want 200", runeCount)
	}
	if !strings.HasPrefix(long, got) {
		t.Fatal("Snippet must be a prefix of the input")
	}
}
