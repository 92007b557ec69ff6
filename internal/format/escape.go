// ABOUTME: MarkdownV2 escaping rules and the plain-text fallback
// ABOUTME: Different contexts (text, code, link url) escape different character sets

package format

import "strings"

// Characters that must be escaped in MarkdownV2 text
const specialChars = "_*[]()~`>#+-=|{}.!\\"

// EscapeText escapes s for use as MarkdownV2 text.
func EscapeText(s string) string {
	return escapeSet(s, specialChars)
}

func escapeCode(s string) string {
	return escapeSet(s, "`\\")
}

func escapeURL(s string) string {
	return escapeSet(s, ")\\")
}

func escapeSet(s, set string) string {
	if !strings.ContainsAny(s, set) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(set, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Plain strips MarkdownV2 escapes so formatted text can be resent with no parse mode.
func Plain(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if escaped {
			if !strings.ContainsRune(specialChars, r) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	if escaped {
		b.WriteByte('\\')
	}
	return b.String()
}
