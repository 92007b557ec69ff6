// Package config handles configuration loading for coven-relay.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, then defaulted and validated with ozzo-validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from --config
//  2. Path from COVEN_RELAY_CONFIG environment variable
//  3. ~/.config/coven/relay.yaml
//
// `coven-relay init` writes Sample to the default location.
//
// # Environment Variable Expansion
//
//	frontends:
//	  telegram:
//	    token: "${TELEGRAM_BOT_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// gateway.read_timeout, gateway.backoff and render.limit_window use Go's
// time.ParseDuration syntax ("750ms", "1s", "5m").
//
// # Providers
//
// An empty providers list selects gateway.DefaultProviderSpecs. Each entry
// needs a name, a lowercase command, a kind (openai, plain, bytedance or
// anthropic) and at least one model.
package config
