// ABOUTME: Telegram implementation of render.Transport on top of telegram-bot-api
// ABOUTME: Maps Bot API errors onto the renderer's not-modified and bad-format sentinels

package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/2389/coven-relay/internal/render"
)

// Frontend is the name used in user ids, dedupe keys and renderer lookup
const Frontend = "telegram"

// sender is the part of *tgbotapi.BotAPI the transport uses
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Transport sends and edits Telegram messages.
type Transport struct {
	api sender
}

var _ render.Transport = (*Transport)(nil)

// NewTransport wraps a Bot API client.
func NewTransport(api sender) *Transport {
	return &Transport{api: api}
}

// Send posts a new message, quoting target.ReplyTo when set.
func (t *Transport) Send(ctx context.Context, target render.Target, text string, mode render.ParseMode) (render.Handle, error) {
	if err := ctx.Err(); err != nil {
		return render.Handle{}, err
	}
	chatID, err := strconv.ParseInt(target.ChatID, 10, 64)
	if err != nil {
		return render.Handle{}, fmt.Errorf("parsing chat id %q: %w", target.ChatID, err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode(mode)
	if target.ReplyTo != "" {
		if replyTo, err := strconv.Atoi(target.ReplyTo); err == nil {
			msg.ReplyToMessageID = replyTo
			msg.AllowSendingWithoutReply = true
		}
	}

	sent, err := t.api.Send(msg)
	if err != nil {
		return render.Handle{}, mapError(err)
	}
	return render.Handle{ChatID: target.ChatID, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// Edit replaces the text of a sent message.
func (t *Transport) Edit(ctx context.Context, h render.Handle, text string, mode render.ParseMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(h.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing chat id %q: %w", h.ChatID, err)
	}
	messageID, err := strconv.Atoi(h.MessageID)
	if err != nil {
		return fmt.Errorf("parsing message id %q: %w", h.MessageID, err)
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = parseMode(mode)
	if _, err := t.api.Send(edit); err != nil {
		return mapError(err)
	}
	return nil
}

func parseMode(mode render.ParseMode) string {
	if mode == render.ModeMarkdownV2 {
		return tgbotapi.ModeMarkdownV2
	}
	return ""
}

// mapError classifies Bot API failures by their description.
func mapError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "message is not modified"):
		return fmt.Errorf("%w: %v", render.ErrNotModified, err)
	case strings.Contains(msg, "can't parse entities"), strings.Contains(msg, "can't find end of"):
		return fmt.Errorf("%w: %v", render.ErrBadFormat, err)
	default:
		return fmt.Errorf("telegram api: %w", err)
	}
}
