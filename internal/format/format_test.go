// ABOUTME: Tests for MarkdownV2 conversion, escaping and fence-aware splitting
// ABOUTME: Checks chunk limits and that every chunk leaves its code fences balanced

package format

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownV2_Inline(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain punctuation", "Hello. 1+1=2!", `Hello\. 1\+1\=2\!`},
		{"bold", "**bold** text", `*bold* text`},
		{"italic", "*it*", `_it_`},
		{"strike", "~~gone~~", `~gone~`},
		{"code span", "run `a_b()` now", "run `a_b()` now"},
		{"link", "[docs](https://example.org/a_(b))", `[docs](https://example.org/a_(b\))`},
		{"escaped quote", `say \"hi\"`, `say "hi"`},
		{"entity", "a &amp; b", "a & b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MarkdownV2(tt.in))
		})
	}
}

func TestMarkdownV2_Blocks(t *testing.T) {
	in := "# Title\n\nSome text.\n\n- one\n- two\n\n```go\nfmt.Println(`x`)\n```\n\n> quoted\n> more"
	got := MarkdownV2(in)

	assert.Contains(t, got, "*Title*")
	assert.Contains(t, got, `Some text\.`)
	assert.Contains(t, got, "• one\n• two")
	assert.Contains(t, got, "```go\nfmt.Println(\\`x\\`)\n```")
	assert.Contains(t, got, ">quoted\n>more")
}

func TestMarkdownV2_OrderedList(t *testing.T) {
	got := MarkdownV2("3. c\n4. d")
	assert.Equal(t, "3\\. c\n4\\. d", got)
}

func TestPlain(t *testing.T) {
	assert.Equal(t, "Hello. (x) a\\b", Plain(`Hello\. \(x\) a\\b`))
	assert.Equal(t, `C:\path`, Plain(`C:\path`))
	assert.Equal(t, "trailing\\", Plain("trailing\\"))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", Tail("abc", 5))
	assert.Equal(t, "bc", Tail("abc", 2))
	assert.Equal(t, "界!", Tail("世界!", 2))
}

func fenceLines(chunk string) int {
	n := 0
	for _, line := range strings.Split(chunk, "\n") {
		if strings.Contains(line, fenceMarker) {
			n++
		}
	}
	return n
}

func TestSplit_ShortTextUnchanged(t *testing.T) {
	assert.Equal(t, []string{"short"}, Split("short", 4096))
}

func TestSplit_RespectsLimitOnLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "line number %02d\n", i)
	}

	chunks := Split(b.String(), 100)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, Len(c), 100)
	}
	assert.Equal(t, strings.TrimRight(b.String(), "\n"), strings.Join(chunks, "\n"))
}

func TestSplit_ClosesAndReopensFences(t *testing.T) {
	var b strings.Builder
	b.WriteString("Intro text\n```python\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "print('row %02d')\n", i)
	}
	b.WriteString("```\nOutro text\n")

	const limit = 120
	chunks := Split(b.String(), limit)
	require.Greater(t, len(chunks), 2)

	for i, c := range chunks {
		assert.LessOrEqual(t, Len(c), limit, "chunk %d", i)
		assert.Equal(t, 0, fenceLines(c)%2, "chunk %d leaves a fence open:\n%s", i, c)
	}
	for _, c := range chunks[1 : len(chunks)-1] {
		assert.True(t, strings.HasPrefix(c, "```python\n"), "reopened chunk keeps the language:\n%s", c)
	}

	var rows int
	for _, c := range chunks {
		rows += strings.Count(c, "print('row")
	}
	assert.Equal(t, 40, rows)
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "Outro text"))
}

func TestSplit_UnterminatedFenceIsClosed(t *testing.T) {
	text := "```\n" + strings.Repeat("code line\n", 30)
	chunks := Split(text, 64)
	for _, c := range chunks {
		assert.LessOrEqual(t, Len(c), 64)
		assert.Equal(t, 0, fenceLines(c)%2)
	}
}

func TestSplit_HardWrapsLongLines(t *testing.T) {
	long := strings.Repeat("界", 250)
	chunks := Split("before\n"+long+"\nafter", 100)

	for _, c := range chunks {
		assert.LessOrEqual(t, Len(c), 100)
	}
	assert.Equal(t, 250, strings.Count(strings.Join(chunks, ""), "界"))
	assert.True(t, strings.HasPrefix(chunks[0], "before\n"))
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "\nafter"))
}

func TestSplit_HardWrapsInsideFence(t *testing.T) {
	text := "```sh\n" + strings.Repeat("x", 300) + "\n```"
	chunks := Split(text, 80)

	for _, c := range chunks {
		assert.LessOrEqual(t, Len(c), 80)
		assert.Equal(t, 0, fenceLines(c)%2, c)
	}
	assert.Equal(t, 300, strings.Count(strings.Join(chunks, ""), "x"))
}

// checkChunks asserts the invariants every split must keep: the limit, balanced
// fences, no chunk that is only fence lines, and no lost content.
func checkChunks(t *testing.T, text string, chunks []string, limit int) {
	t.Helper()
	for i, c := range chunks {
		require.LessOrEqual(t, Len(c), limit, "chunk %d of %d at limit %d:\n%s\ninput:\n%s", i, len(chunks), limit, c, text)
		require.Equal(t, 0, fenceLines(c)%2, "chunk %d leaves a fence open:\n%s\ninput:\n%s", i, c, text)
		require.NotEmpty(t, strings.TrimSpace(stripFences(c)), "chunk %d has no content:\n%s\ninput:\n%s", i, c, text)
	}
	require.Equal(t, strings.ReplaceAll(stripFences(text), "\n", ""),
		strings.ReplaceAll(stripFences(strings.Join(chunks, "\n")), "\n", ""), "content lost at limit %d", limit)
}

func stripFences(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, fenceMarker) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func TestSplit_LongLineAtFenceReserve(t *testing.T) {
	const limit = 4096
	tests := []struct {
		name  string
		first int // length of the line that nearly fills the first chunk
	}{
		{"exactly at reserve", limit - 9},
		{"one under reserve", limit - 10},
		{"one over reserve", limit - 8},
		{"limit minus one", limit - 1},
		{"limit minus four", limit - 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := "```\n" + strings.Repeat("a", tt.first) + "\n" + strings.Repeat("b", 5000) + "\n```"
			chunks := Split(text, limit)
			require.Greater(t, len(chunks), 1)
			checkChunks(t, text, chunks, limit)
		})
	}
}

func TestSplit_ClosingFenceAtBoundary(t *testing.T) {
	const limit = 40
	for n := 20; n <= 40; n++ {
		text := "```go\n" + strings.Repeat("y", n) + "\n```\ntail"
		chunks := Split(text, limit)
		checkChunks(t, text, chunks, limit)
		for _, c := range chunks {
			assert.NotEqual(t, "```go\n```", c, "n=%d", n)
		}
	}
}

func TestSplit_RandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	runes := []rune("xyzé界-")

	line := func(maxLen int) string {
		n := 1 + rng.Intn(maxLen)
		var b strings.Builder
		b.WriteRune('w')
		for i := 1; i < n; i++ {
			b.WriteRune(runes[rng.Intn(len(runes))])
		}
		return b.String()
	}

	for iter := 0; iter < 3000; iter++ {
		limit := 40 + rng.Intn(101)
		var lines []string
		open := false
		for i, n := 0, 2+rng.Intn(30); i < n; i++ {
			switch {
			case rng.Intn(6) == 0:
				if open {
					lines = append(lines, "```")
				} else {
					lines = append(lines, "```go")
				}
				open = !open
				lines = append(lines, line(limit/2))
			case rng.Intn(4) == 0:
				lines = append(lines, line(3*limit))
			default:
				lines = append(lines, line(limit/2))
			}
		}
		if open && rng.Intn(2) == 0 {
			lines = append(lines, "```")
		}
		text := strings.Join(lines, "\n")
		if Len(text) <= limit {
			continue
		}
		checkChunks(t, text, Split(text, limit), limit)
	}
}
