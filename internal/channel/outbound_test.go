package channel

import (
	"strings"
	"testing"
)

func TestChunkText_ShortPassthrough(t *testing.T) {
	t.Parallel()
	got := ChunkText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("ChunkText = %v", got)
	}
}

func TestChunkText_Empty(t *testing.T) {
	t.Parallel()
	if got := ChunkText("   \n  ", 100); got != nil {
		t.Fatalf("ChunkText = %v, want nil", got)
	}
}

func TestChunkText_SplitsOnLines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("aaaa\n", 10) // 10 lines of 4 runes
	chunks := ChunkText(text, 9)
	for i, c := range chunks {
		if runeLen(c) > 9 {
			t.Fatalf("chunk %d over limit: %q", i, c)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has dangling newline: %q", i, c)
		}
	}
	if joined := strings.Join(chunks, "\n"); joined != strings.TrimSpace(text) {
		t.Fatalf("content lost: %q", joined)
	}
}

func TestChunkText_HardSplitsLongLine(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 25)
	chunks := ChunkText(long, 10)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		if runeLen(c) > 10 {
			t.Fatalf("chunk over limit: %q", c)
		}
		total += runeLen(c)
	}
	if total != 25 {
		t.Fatalf("total runes = %d, want 25", total)
	}
}

func TestChunkText_MultibyteSafe(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("日本語テキスト", 10)
	for _, c := range ChunkText(text, 7) {
		if runeLen(c) > 7 {
			t.Fatalf("chunk over rune limit: %q", c)
		}
	}
}

func TestChunkText_NoLimit(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 5000)
	got := ChunkText(long, 0)
	if len(got) != 1 {
		t.Fatalf("chunks = %d, want 1 with no limit", len(got))
	}
}
