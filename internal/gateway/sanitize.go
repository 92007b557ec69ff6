// ABOUTME: Text sanitizers applied to streamed content and reasoning deltas
// ABOUTME: Normalizes quotes and tabs and turns reasoning into a block quote

package gateway

import "strings"

var contentReplacer = strings.NewReplacer(
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
	"\t", "  ",
	"\r", "",
)

var reasoningReplacer = strings.NewReplacer(
	"“", `\"`,
	"”", `\"`,
	`"`, `\"`,
	"\t", "  ",
	"\r", "",
	"\n", "\n> ",
)

// sanitizeContent folds typographic quotes to ASCII and expands tabs.
func sanitizeContent(s string) string {
	return contentReplacer.Replace(s)
}

// sanitizeReasoning escapes quotes, expands tabs and continues the block
// quote across newlines.
func sanitizeReasoning(s string) string {
	return reasoningReplacer.Replace(s)
}
