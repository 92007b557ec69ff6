// Package telegram is the Telegram frontend: a long-polling bot plus the
// render.Transport that sends and edits its messages.
package telegram
