// ABOUTME: Fence-aware splitting of formatted text into message-sized chunks
// ABOUTME: Lengths are counted in runes; a code fence cut by a chunk boundary is closed and reopened

package format

import (
	"strings"
	"unicode/utf8"
)

const (
	fenceMarker = "```"
	// room kept free for "\n```" while a fence is open
	closeReserve = 4
)

// Len returns the length of s as the messaging limits count it.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}

// Tail returns the last n runes of s.
func Tail(s string, n int) string {
	count := Len(s)
	if count <= n {
		return s
	}
	skip := count - n
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}

// Split cuts text into chunks of at most limit runes on line boundaries.
// A line containing ``` toggles the fence state. When a cut lands inside a
// fence, the chunk is closed with ``` and the next one reopens with the same
// language. Lines longer than a chunk are hard-wrapped.
func Split(text string, limit int) []string {
	if Len(text) <= limit {
		return []string{text}
	}

	s := splitter{limit: limit}
	for _, line := range strings.SplitAfter(text, "\n") {
		if line != "" {
			s.add(line)
		}
	}
	s.flush(true)
	return s.chunks
}

type splitter struct {
	limit  int
	chunks []string

	cur       strings.Builder
	curLen    int
	headerLen int // length of the reopened fence header at the start of cur

	open bool
	lang string

	// blockEmpty is set while the fence opened at byte openAt of cur has no
	// content yet
	blockEmpty bool
	openAt     int
}

func (s *splitter) reserve(open bool) int {
	if open {
		return closeReserve
	}
	return 0
}

func (s *splitter) add(line string) {
	isFence := strings.Contains(line, fenceMarker)
	after := s.open != isFence
	lineLen := Len(line)

	// A closing fence never starts a chunk of its own: the fence flush
	// appends already closes the block
	if s.open && isFence && strings.HasPrefix(strings.TrimSpace(line), fenceMarker) {
		switch {
		case s.headerLen > 0 && s.curLen == s.headerLen:
			s.cur.Reset()
			s.curLen, s.headerLen = 0, 0
			s.open = false
			return
		case s.curLen > s.headerLen && s.curLen+lineLen > s.limit:
			s.flush(true)
			s.open = false
			return
		}
	}

	fresh := 0
	if s.open {
		fresh = Len(fenceMarker + s.lang + "\n")
	}
	fitsFresh := fresh+lineLen+s.reserve(after) <= s.limit

	// A line that cannot fit even a fresh chunk is cut into pieces, starting
	// in the current chunk
	for lineLen > 0 && s.curLen+lineLen+s.reserve(after) > s.limit {
		if fitsFresh && s.curLen > s.headerLen {
			s.flush(false)
			continue
		}
		room := s.limit - s.curLen - max(s.reserve(s.open), s.reserve(after))
		if room < 1 {
			if s.curLen > s.headerLen {
				s.flush(false)
				continue
			}
			// limit too small for the fence header itself
			room = 1
		}
		piece, rest := splitRunes(line, room)
		if rest == "\n" {
			// flush closes a fence after a trailing newline without adding one
			piece, rest = line, ""
		}
		s.write(piece)
		s.blockEmpty = false
		s.flush(false)
		line, lineLen = rest, Len(rest)
	}

	if isFence && !s.open {
		s.openAt = s.cur.Len()
	}
	s.write(line)
	s.blockEmpty = isFence && !s.open
	if isFence {
		if !s.open {
			s.lang = fenceLang(line)
		}
		s.open = after
	}
}

func (s *splitter) write(text string) {
	s.cur.WriteString(text)
	s.curLen += Len(text)
}

// flush emits the current chunk. Unless it is the last one, an open fence is
// reopened at the start of the next chunk.
func (s *splitter) flush(last bool) {
	if s.curLen <= s.headerLen && !last {
		return
	}

	chunk := s.cur.String()
	if s.open && s.blockEmpty && !last {
		// leave the opening fence to the next chunk rather than end on an empty block
		if prefix := strings.TrimRight(chunk[:s.openAt], "\n"); prefix != "" {
			s.chunks = append(s.chunks, prefix)
		}
		s.reopen()
		return
	}
	if s.open {
		if !strings.HasSuffix(chunk, "\n") {
			chunk += "\n"
		}
		chunk += fenceMarker
	}
	if s.curLen > s.headerLen {
		s.chunks = append(s.chunks, strings.TrimRight(chunk, "\n"))
	}

	if last {
		s.cur.Reset()
		s.curLen, s.headerLen = 0, 0
		return
	}
	s.reopen()
}

// reopen starts a new chunk, repeating the fence header when a fence is open.
func (s *splitter) reopen() {
	s.cur.Reset()
	s.curLen, s.headerLen = 0, 0
	s.blockEmpty = false
	if s.open {
		s.write(fenceMarker + s.lang + "\n")
		s.headerLen = s.curLen
	}
}

// fenceLang returns the info string following an opening fence
func fenceLang(line string) string {
	_, after, _ := strings.Cut(line, fenceMarker)
	after = strings.TrimLeft(after, "`")
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
