// Package gateway talks to the remote LLM gateway.
//
// # Overview
//
// A turn is one POST to the gateway's chat endpoint whose response is a
// server-sent event stream. The package has three layers:
//
//   - Decoder turns each "data:" line into zero or more Deltas. The Style fixed
//     at construction selects the upstream schema (StyleDefault for
//     choices[].delta payloads, StyleBlockDelta for content_block_delta events).
//   - Client sends the request, reads the stream line by line and forwards each
//     Delta to a Handler. Transport failures are retried up to MaxAttempts with
//     a Reset of the handler in between. Upstream error events are not retried.
//   - Provider builds request bodies for one vendor (model factory, content
//     mode, payload quirks).
//
// # Request body
//
//	{
//	  "model_factory": "openai",
//	  "prompt_type": "multiple",
//	  "model_payload": {"model": "gpt-4o", "messages": [...], "stream": true}
//	}
//
// prompt_type is only sent by multipart providers. The bytedance provider adds
// model_payload.format for deepseek models.
package gateway
