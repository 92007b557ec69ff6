// ABOUTME: Stream decoding styles, one per upstream event schema
// ABOUTME: Default handles OpenAI-like choices[].delta, BlockDelta handles content_block_delta events

package gateway

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Style selects how a decoded JSON event maps to deltas. The set is closed.
type Style interface {
	String() string
	decode(d *Decoder, event gjson.Result) []Delta
}

var (
	// StyleDefault reads choices[i].delta.{reasoning_content,content} and finish_reason
	StyleDefault Style = defaultStyle{}
	// StyleBlockDelta reads typed content_block_delta and message_stop events
	StyleBlockDelta Style = blockDeltaStyle{}
)

// ParseStyle maps a config name to a Style. An empty name is StyleDefault.
func ParseStyle(name string) (Style, error) {
	switch name {
	case "", "default", "choices":
		return StyleDefault, nil
	case "block_delta", "content_block_delta":
		return StyleBlockDelta, nil
	default:
		return nil, fmt.Errorf("unknown stream style %q", name)
	}
}

type defaultStyle struct{}

func (defaultStyle) String() string { return "default" }

func (defaultStyle) decode(d *Decoder, event gjson.Result) []Delta {
	var out []Delta
	finished := false

	event.Get("choices").ForEach(func(_, choice gjson.Result) bool {
		reasoning := choice.Get("delta.reasoning_content").String()
		content := choice.Get("delta.content").String()

		switch {
		case reasoning != "":
			out = append(out, ReasoningDelta(d.reasoning(reasoning)))
		case content != "":
			out = append(out, TextDelta(d.content(content)))
		}

		if reason := choice.Get("finish_reason"); reason.Type != gjson.Null && reason.String() != "" {
			finished = true
		}
		return true
	})

	if finished {
		out = append(out, TerminalDelta())
	}
	return out
}

type blockDeltaStyle struct{}

func (blockDeltaStyle) String() string { return "block_delta" }

func (blockDeltaStyle) decode(d *Decoder, event gjson.Result) []Delta {
	switch typ := event.Get("type").String(); typ {
	case "content_block_delta":
		if text := event.Get("delta.text").String(); text != "" {
			return []Delta{TextDelta(text)}
		}
	case "message_stop":
		return []Delta{TerminalDelta()}
	default:
		d.logger.Debug("ignoring stream event", "type", typ)
	}
	return nil
}
