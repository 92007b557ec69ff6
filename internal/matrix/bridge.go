// ABOUTME: Matrix frontend: syncs with the homeserver and feeds room messages to the router
// ABOUTME: Skips its own messages, backlog from before startup and rooms or users not allowed

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/bot"
	"github.com/2389/coven-relay/internal/store"
)

// Handler receives inbound messages
type Handler interface {
	Handle(ctx context.Context, in bot.Inbound) error
}

// Config configures the Matrix frontend
type Config struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	AllowedUsers []string
	AllowedRooms []string
}

// Bridge connects a Matrix account to the router.
type Bridge struct {
	cfg     Config
	client  *mautrix.Client
	logger  *slog.Logger
	started time.Time

	wg sync.WaitGroup
}

// New creates a Matrix client for cfg.
func New(cfg Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Bridge{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "matrix"),
	}, nil
}

// Transport returns the render transport for this account.
func (b *Bridge) Transport() *Transport {
	return NewTransport(b.client)
}

// Run syncs until ctx is cancelled, then waits for handlers to return.
func (b *Bridge) Run(ctx context.Context, h Handler) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
	)
	b.started = time.Now()

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		in, ok := b.inbound(evt)
		if !ok {
			return
		}
		// handle off the sync loop
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := h.Handle(ctx, in); err != nil {
				b.logger.Error("failed to handle message", "room", in.ChatID, "user_id", in.User.ID, "error", err)
			}
		}()
	})

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.client.StopSync()
		<-syncErr
		b.wg.Wait()
		return nil
	case err := <-syncErr:
		b.wg.Wait()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// inbound converts a room message, dropping what the bridge should not answer.
func (b *Bridge) inbound(evt *event.Event) (bot.Inbound, bool) {
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return bot.Inbound{}, false
	}
	if time.UnixMilli(evt.Timestamp).Before(b.started) {
		return bot.Inbound{}, false
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return bot.Inbound{}, false
	}
	// edits of earlier messages are not new prompts
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return bot.Inbound{}, false
	}

	roomID := evt.RoomID.String()
	sender := evt.Sender.String()
	if len(b.cfg.AllowedRooms) > 0 && !slices.Contains(b.cfg.AllowedRooms, roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return bot.Inbound{}, false
	}
	if len(b.cfg.AllowedUsers) > 0 && !slices.Contains(b.cfg.AllowedUsers, sender) {
		b.logger.Debug("ignoring message from non-allowed user", "sender", sender)
		return bot.Inbound{}, false
	}

	name, _, err := evt.Sender.Parse()
	if err != nil {
		name = sender
	}
	return bot.Inbound{
		Frontend:  Frontend,
		MessageID: evt.ID.String(),
		ChatID:    roomID,
		User: store.User{
			ID:        Frontend + ":" + sender,
			FirstName: name,
			FullName:  name,
		},
		Text: strings.TrimSpace(content.Body),
	}, true
}
