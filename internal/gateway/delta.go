// ABOUTME: Delta and wire message types exchanged with the LLM gateway
// ABOUTME: A Delta is one decoded unit of a streamed answer

package gateway

// DeltaKind tags a Delta
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaReasoning
	DeltaTerminal
	DeltaError
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaText:
		return "text"
	case DeltaReasoning:
		return "reasoning"
	case DeltaTerminal:
		return "terminal"
	case DeltaError:
		return "error"
	default:
		return "unknown"
	}
}

// Delta is one decoded stream event. Text holds content for Text and
// Reasoning, and the vendor message for Error. Terminal carries nothing.
type Delta struct {
	Kind DeltaKind
	Text string
}

// TextDelta returns a content delta.
func TextDelta(s string) Delta { return Delta{Kind: DeltaText, Text: s} }

// ReasoningDelta returns a reasoning delta.
func ReasoningDelta(s string) Delta { return Delta{Kind: DeltaReasoning, Text: s} }

// TerminalDelta marks the end of a stream.
func TerminalDelta() Delta { return Delta{Kind: DeltaTerminal} }

// ErrorDelta carries an upstream error message.
func ErrorDelta(msg string) Delta { return Delta{Kind: DeltaError, Text: msg} }

// Role of a chat message on the wire
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part types inside multipart content
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ContentPart is one element of multipart message content
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is one chat message sent as history. Content is either a string
// or a []ContentPart depending on the provider's Mode.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Mode selects the wire shape of message content
type Mode int

const (
	// ModeMultiple sends content as a list of typed parts
	ModeMultiple Mode = iota
	// ModePlain sends content as a bare string
	ModePlain
)

// NewMessage builds a message in the given mode. Image parts in plain mode
// degrade to their URL text.
func NewMessage(mode Mode, role string, parts ...ContentPart) Message {
	if mode == ModeMultiple {
		return Message{Role: role, Content: parts}
	}
	var text string
	for i, p := range parts {
		if i > 0 {
			text += "\n"
		}
		if p.Type == PartImageURL {
			text += p.ImageURL
		} else {
			text += p.Text
		}
	}
	return Message{Role: role, Content: text}
}
