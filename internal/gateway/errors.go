// ABOUTME: Error types returned by the streaming client
// ABOUTME: TransportError is retried, UpstreamError is final

package gateway

import (
	"errors"
	"fmt"
)

// ErrRetriesExhausted is returned when every attempt failed at the transport level
var ErrRetriesExhausted = errors.New("stream retries exhausted")

// TransportError is a connection failure, a non-2xx status, or a read error mid-stream.
type TransportError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is an explicit error event sent by the vendor inside the stream.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return "upstream error"
	}
	return "upstream error: " + e.Message
}
