// ABOUTME: Messaging transport contract used by the incremental renderer
// ABOUTME: Frontends map their API errors onto ErrNotModified and ErrBadFormat

package render

import (
	"context"
	"errors"
)

// ErrNotModified means an edit carried the same content the message already shows
var ErrNotModified = errors.New("message not modified")

// ErrBadFormat means the frontend rejected the formatted text
var ErrBadFormat = errors.New("message formatting rejected")

// DefaultMaxLength is Telegram's message length limit in characters
const DefaultMaxLength = 4096

// ParseMode selects how the frontend interprets message text
type ParseMode int

const (
	ModePlain ParseMode = iota
	ModeMarkdownV2
)

func (m ParseMode) String() string {
	if m == ModeMarkdownV2 {
		return "MarkdownV2"
	}
	return "plain"
}

// Target is the chat a turn replies into
type Target struct {
	ChatID string
	// ReplyTo is the inbound message the first reply quotes, when the frontend supports it
	ReplyTo string
}

// Handle identifies a sent message so it can be edited
type Handle struct {
	ChatID    string
	MessageID string
}

// Transport sends and edits chat messages.
type Transport interface {
	Send(ctx context.Context, target Target, text string, mode ParseMode) (Handle, error)
	Edit(ctx context.Context, h Handle, text string, mode ParseMode) error
}
