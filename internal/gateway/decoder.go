// ABOUTME: Line decoder for the gateway's server-sent event stream
// ABOUTME: Turns "data:" lines into Deltas, tolerating heartbeats and malformed lines

package gateway

import (
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// DecoderOptions configures a Decoder
type DecoderOptions struct {
	// ThinkingPrefix is prepended to the first reasoning chunk of an attempt
	ThinkingPrefix string
	Logger         *slog.Logger
}

// Decoder converts stream lines into deltas. It holds per-attempt state,
// so a fresh Decoder is built for every attempt.
type Decoder struct {
	style          Style
	thinkingPrefix string
	logger         *slog.Logger

	reasoningSeen bool
	inReasoning   bool
	stopped       bool
}

// NewDecoder creates a decoder for one attempt.
func NewDecoder(style Style, opts DecoderOptions) *Decoder {
	if style == nil {
		style = StyleDefault
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		style:          style,
		thinkingPrefix: opts.ThinkingPrefix,
		logger:         logger,
	}
}

// Decode parses one stream line. Heartbeats and noise yield nothing. After an
// error event the decoder is stopped and yields nothing for later lines.
func (d *Decoder) Decode(line string) []Delta {
	if d.stopped {
		return nil
	}

	payload := strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(payload, dataPrefix); ok {
		payload = strings.TrimSpace(strings.TrimPrefix(rest, " "))
	}
	if payload == "" {
		return nil
	}

	if !gjson.Valid(payload) {
		return d.nonJSON(payload)
	}
	event := gjson.Parse(payload)
	if !event.IsObject() {
		return d.nonJSON(payload)
	}

	if msg, ok := errorMessage(event.Get("error")); ok {
		d.stopped = true
		return []Delta{ErrorDelta(msg)}
	}

	return d.style.decode(d, event)
}

// Stopped reports whether an error event has been seen.
func (d *Decoder) Stopped() bool {
	return d.stopped
}

func (d *Decoder) nonJSON(payload string) []Delta {
	if strings.Contains(payload, doneSentinel) {
		return []Delta{TerminalDelta()}
	}
	d.logger.Debug("ignoring malformed stream line", "line", truncate(payload, 120))
	return nil
}

// reasoning sanitizes a reasoning chunk and prefixes the first one
func (d *Decoder) reasoning(s string) string {
	s = sanitizeReasoning(s)
	d.inReasoning = true
	if !d.reasoningSeen {
		d.reasoningSeen = true
		return d.thinkingPrefix + s
	}
	return s
}

// content sanitizes a content chunk and closes a preceding reasoning quote
func (d *Decoder) content(s string) string {
	s = sanitizeContent(s)
	if d.inReasoning {
		d.inReasoning = false
		return "\n\n" + s
	}
	return s
}

// errorMessage extracts a vendor error. Null, false and empty values are not errors.
func errorMessage(v gjson.Result) (string, bool) {
	switch v.Type {
	case gjson.Null, gjson.False:
		return "", false
	case gjson.String:
		if v.String() == "" {
			return "", false
		}
		return v.String(), true
	case gjson.JSON:
		if v.IsObject() {
			if msg := v.Get("message").String(); msg != "" {
				return msg, true
			}
		}
		return v.Raw, true
	default:
		return v.String(), true
	}
}

// truncate shortens s to maxLen runes for logging.
func truncate(s string, maxLen int) string {
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
