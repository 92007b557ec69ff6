// ABOUTME: Matrix implementation of render.Transport using mautrix message events
// ABOUTME: Edits are m.replace relations; formatted text is sent as its plain-text reading

package matrix

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/format"
	"github.com/2389/coven-relay/internal/render"
)

// Frontend is the name used in user ids, dedupe keys and renderer lookup
const Frontend = "matrix"

// eventSender is the part of *mautrix.Client the transport uses
type eventSender interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

// Transport sends and edits Matrix room messages.
type Transport struct {
	client eventSender
}

var _ render.Transport = (*Transport)(nil)

// NewTransport wraps a mautrix client.
func NewTransport(client eventSender) *Transport {
	return &Transport{client: client}
}

// Send posts a text message; target.ReplyTo is an event id to reply to.
func (t *Transport) Send(ctx context.Context, target render.Target, text string, mode render.ParseMode) (render.Handle, error) {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body(text, mode),
	}
	if target.ReplyTo != "" {
		content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: id.EventID(target.ReplyTo)}}
	}

	resp, err := t.client.SendMessageEvent(ctx, id.RoomID(target.ChatID), event.EventMessage, content)
	if err != nil {
		return render.Handle{}, fmt.Errorf("sending matrix message: %w", err)
	}
	return render.Handle{ChatID: target.ChatID, MessageID: resp.EventID.String()}, nil
}

// Edit replaces a sent message with an m.replace event.
func (t *Transport) Edit(ctx context.Context, h render.Handle, text string, mode render.ParseMode) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body(text, mode),
	}
	content.SetEdit(id.EventID(h.MessageID))

	if _, err := t.client.SendMessageEvent(ctx, id.RoomID(h.ChatID), event.EventMessage, content); err != nil {
		return fmt.Errorf("editing matrix message: %w", err)
	}
	return nil
}

// body strips Telegram escapes; Matrix clients would show them literally.
func body(text string, mode render.ParseMode) string {
	if mode == render.ModeMarkdownV2 {
		return format.Plain(text)
	}
	return text
}
