// ABOUTME: Per-vendor request builders behind the Provider interface
// ABOUTME: Each kind owns its model factory, content mode, stream style and payload quirks

package gateway

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/sjson"
)

// Provider builds gateway request bodies for one model vendor.
type Provider interface {
	// Name is the display name shown to users
	Name() string
	// Command is the bot command that selects this provider, without the slash
	Command() string
	// Factory is the gateway's model_factory value and the session scope
	Factory() string
	Style() Style
	Mode() Mode
	Models() []string
	// BuildRequest encodes history plus the new user prompt for model
	BuildRequest(history []Message, prompt, model string) ([]byte, error)
}

// Provider kinds accepted in configuration
const (
	KindOpenAI    = "openai"
	KindPlain     = "plain"
	KindByteDance = "bytedance"
	KindAnthropic = "anthropic"
)

// ProviderSpec is the configuration of one provider
type ProviderSpec struct {
	Name    string
	Command string
	Kind    string
	Factory string
	Style   string // empty uses the kind's default
	Models  []string
}

// NewProvider builds the provider for spec.Kind.
func NewProvider(spec ProviderSpec) (Provider, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("provider %q: command is required", spec.Name)
	}
	if len(spec.Models) == 0 {
		return nil, fmt.Errorf("provider %q: at least one model is required", spec.Name)
	}
	if spec.Factory == "" {
		spec.Factory = spec.Kind
	}

	defaultStyle := StyleDefault
	if spec.Kind == KindAnthropic {
		defaultStyle = StyleBlockDelta
	}
	style := defaultStyle
	if spec.Style != "" {
		s, err := ParseStyle(spec.Style)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", spec.Name, err)
		}
		style = s
	}

	base := baseProvider{spec: spec, style: style, mode: ModePlain}
	switch spec.Kind {
	case KindOpenAI:
		base.mode = ModeMultiple
		base.promptType = "multiple"
		return &base, nil
	case KindPlain, KindAnthropic:
		return &base, nil
	case KindByteDance:
		return &byteDanceProvider{baseProvider: base}, nil
	default:
		return nil, fmt.Errorf("provider %q: unknown kind %q", spec.Name, spec.Kind)
	}
}

// DefaultProviderSpecs lists the vendors the relay knows out of the box.
func DefaultProviderSpecs() []ProviderSpec {
	return []ProviderSpec{
		{Name: "ChatGPT", Command: "gpt", Kind: KindOpenAI, Factory: "openai", Models: []string{"gpt-4o", "gpt-4o-mini", "o3-mini"}},
		{Name: "DeepSeek", Command: "deepseek", Kind: KindPlain, Factory: "deepseek", Models: []string{"deepseek-chat", "deepseek-reasoner"}},
		{Name: "Doubao", Command: "doubao", Kind: KindByteDance, Factory: "bytedance", Models: []string{"doubao-1-5-pro-32k", "deepseek-r1"}},
		{Name: "SCNet", Command: "scnet", Kind: KindPlain, Factory: "sc_net", Models: []string{"DeepSeek-R1-Distill-Qwen-32B"}},
		{Name: "Claude", Command: "claude", Kind: KindAnthropic, Factory: "anthropic", Models: []string{"claude-sonnet-4-5", "claude-haiku-4-5"}},
	}
}

type chatRequest struct {
	ModelFactory string       `json:"model_factory"`
	PromptType   string       `json:"prompt_type,omitempty"`
	ModelPayload modelPayload `json:"model_payload"`
}

type modelPayload struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type baseProvider struct {
	spec       ProviderSpec
	style      Style
	mode       Mode
	promptType string
}

func (p *baseProvider) Name() string     { return p.spec.Name }
func (p *baseProvider) Command() string  { return p.spec.Command }
func (p *baseProvider) Factory() string  { return p.spec.Factory }
func (p *baseProvider) Style() Style     { return p.style }
func (p *baseProvider) Mode() Mode       { return p.mode }
func (p *baseProvider) Models() []string { return slices.Clone(p.spec.Models) }

func (p *baseProvider) BuildRequest(history []Message, prompt, model string) ([]byte, error) {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, NewMessage(p.mode, RoleUser, ContentPart{Type: PartText, Text: prompt}))

	body, err := json.Marshal(chatRequest{
		ModelFactory: p.spec.Factory,
		PromptType:   p.promptType,
		ModelPayload: modelPayload{
			Model:    model,
			Messages: messages,
			Stream:   true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", p.spec.Factory, err)
	}
	return body, nil
}

// byteDanceProvider rewrites dashed version numbers and asks deepseek models for markdown
type byteDanceProvider struct {
	baseProvider
}

func (p *byteDanceProvider) BuildRequest(history []Message, prompt, model string) ([]byte, error) {
	model = strings.ReplaceAll(model, "1-5", "1.5")
	body, err := p.baseProvider.BuildRequest(history, prompt, model)
	if err != nil {
		return nil, err
	}
	if strings.Contains(model, "deepseek") {
		body, err = sjson.SetBytes(body, "model_payload.format", "markdown")
		if err != nil {
			return nil, fmt.Errorf("setting bytedance format: %w", err)
		}
	}
	return body, nil
}
