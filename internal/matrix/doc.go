// Package matrix is the Matrix frontend.
//
// The bridge syncs one account with mautrix and turns m.text room messages
// into bot.Inbound values. Streaming answers are rendered by editing the
// first reply with m.replace events. Matrix does not understand Telegram
// MarkdownV2, so formatted text is delivered as its plain reading.
package matrix
