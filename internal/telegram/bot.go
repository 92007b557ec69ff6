// ABOUTME: Long-polling Telegram frontend that feeds text messages to the router
// ABOUTME: Each update is handled in its own goroutine; shutdown waits for in-flight turns

package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/2389/coven-relay/internal/bot"
	"github.com/2389/coven-relay/internal/store"
)

// pollTimeout is the long-poll timeout in seconds
const pollTimeout = 60

// Handler receives inbound messages
type Handler interface {
	Handle(ctx context.Context, in bot.Inbound) error
}

// Config configures the Telegram frontend
type Config struct {
	Token        string
	AllowedUsers []int64
}

// Bot polls Telegram for updates.
type Bot struct {
	api     *tgbotapi.BotAPI
	allowed []int64
	logger  *slog.Logger
}

// New authenticates against the Bot API.
func New(cfg Config, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	return &Bot{
		api:     api,
		allowed: cfg.AllowedUsers,
		logger:  logger.With("component", "telegram", "bot", api.Self.UserName),
	}, nil
}

// Transport returns the render transport for this bot.
func (b *Bot) Transport() *Transport {
	return NewTransport(b.api)
}

// Run polls until ctx is cancelled, then waits for handlers to return.
func (b *Bot) Run(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("telegram bot running")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("shutting down telegram bot")
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram update channel closed")
			}
			in, ok := b.inbound(update)
			if !ok {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := h.Handle(ctx, in); err != nil {
					b.logger.Error("failed to handle message", "chat_id", in.ChatID, "user_id", in.User.ID, "error", err)
				}
			}()
		}
	}
}

// inbound converts an update, dropping non-text and filtered messages.
func (b *Bot) inbound(update tgbotapi.Update) (bot.Inbound, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.Text == "" {
		return bot.Inbound{}, false
	}
	if len(b.allowed) > 0 && !slices.Contains(b.allowed, msg.From.ID) {
		b.logger.Debug("ignoring message from non-allowed user", "user_id", msg.From.ID)
		return bot.Inbound{}, false
	}
	return ToInbound(msg), true
}

// ToInbound maps a Telegram message to the router's form.
func ToInbound(msg *tgbotapi.Message) bot.Inbound {
	from := msg.From
	full := strings.TrimSpace(from.FirstName + " " + from.LastName)
	return bot.Inbound{
		Frontend:  Frontend,
		MessageID: strconv.Itoa(msg.MessageID),
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		User: store.User{
			ID:           Frontend + ":" + strconv.FormatInt(from.ID, 10),
			FirstName:    from.FirstName,
			LastName:     from.LastName,
			FullName:     full,
			IsBot:        from.IsBot,
			LanguageCode: from.LanguageCode,
		},
		Text: msg.Text,
	}
}
