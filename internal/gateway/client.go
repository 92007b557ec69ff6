// ABOUTME: Retrying streaming client for the LLM gateway chat endpoint
// ABOUTME: POSTs a request, decodes the event stream and forwards deltas to a Handler

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultReadTimeout = 5 * time.Minute
	DefaultMaxAttempts = 3
)

// Handler consumes the deltas of one turn.
type Handler interface {
	// HandleDelta is awaited before the next line is read. An error aborts the turn.
	HandleDelta(ctx context.Context, d Delta) error
	// Reset discards accumulated content before a retry.
	Reset()
	// HandleFailure is called once when every attempt failed at the transport level.
	HandleFailure(ctx context.Context, vendorMessage string)
}

// Request is one streaming chat request
type Request struct {
	Body           []byte
	Style          Style
	ThinkingPrefix string
}

// ClientConfig configures a Client
type ClientConfig struct {
	URL         string
	ReadTimeout time.Duration // whole-request timeout; the stream is long-lived
	MaxAttempts int
	Backoff     time.Duration // wait before retry n is n*Backoff
	HTTPClient  *http.Client  // optional override, mainly for tests
}

// Client streams chat completions from the gateway.
type Client struct {
	url         string
	http        *http.Client
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// NewClient creates a new gateway client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.ReadTimeout
		if timeout <= 0 {
			timeout = DefaultReadTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	return &Client{
		url:         cfg.URL,
		http:        httpClient,
		maxAttempts: attempts,
		backoff:     cfg.Backoff,
		logger:      logger.With("component", "gateway-client"),
	}
}

// Stream runs the request until a terminal or error event, retrying transport
// failures. Deltas go to h in arrival order.
func (c *Client) Stream(ctx context.Context, req Request, h Handler) error {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.wait(ctx, attempt-1); err != nil {
				return fmt.Errorf("waiting to retry: %w", err)
			}
			h.Reset()
		}

		err := c.attempt(ctx, req, h)
		if err == nil {
			return nil
		}

		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("streaming: %w", ctx.Err())
		}

		lastErr = err
		c.logger.Warn("stream attempt failed",
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"error", err,
		)
	}

	h.HandleFailure(ctx, "")
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.maxAttempts, lastErr)
}

func (c *Client) wait(ctx context.Context, n int) error {
	if c.backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(n) * c.backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attempt performs a single POST and consumes its stream
func (c *Client) attempt(ctx context.Context, req Request, h Handler) error {
	requestID := uuid.New().String()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(req.Body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("sending request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}

	c.logger.Debug("stream opened", "request_id", requestID)

	dec := NewDecoder(req.Style, DecoderOptions{
		ThinkingPrefix: req.ThinkingPrefix,
		Logger:         c.logger,
	})

	// bufio.Reader, unlike Scanner, has no line length cap
	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			for _, d := range dec.Decode(line) {
				if err := h.HandleDelta(ctx, d); err != nil {
					return err
				}
				switch d.Kind {
				case DeltaTerminal:
					return nil
				case DeltaError:
					return &UpstreamError{Message: d.Text}
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &TransportError{Err: fmt.Errorf("reading stream: %w", readErr)}
		}
	}

	c.logger.Warn("stream ended without terminal event", "request_id", requestID)
	return h.HandleDelta(ctx, TerminalDelta())
}

// handleErrorResponse turns a non-2xx response into a TransportError
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return &TransportError{
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("gateway returned %d: %s", resp.StatusCode, msg),
	}
}
