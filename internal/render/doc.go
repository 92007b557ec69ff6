// Package render streams a gateway answer into a chat message.
//
// A Turn receives Deltas from the gateway client. Streaming frames are shown
// as plain text (the tail of the answer that fits one message) and are spaced
// at least LimitWindow apart. A render that finds another render in progress
// is dropped; a render inside the window arms a single deferred re-check so
// the latest text is always shown eventually.
//
// On Terminal the complete answer is converted to Telegram MarkdownV2, split
// into fence-balanced chunks and delivered: the first chunk replaces the
// streaming message, the rest are sent as new messages. A rejected formatted
// message is resent as plain text. The answer is persisted exactly once.
//
// On an upstream error, or when the client gives up, the localized fallback
// reply is persisted instead and the error text is shown.
package render
