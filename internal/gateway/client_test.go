// ABOUTME: Tests for the retrying streaming client against httptest servers
// ABOUTME: Covers headers, retries with reset, exhaustion, upstream errors and truncated streams

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler collects deltas the way a renderer would
type recordingHandler struct {
	mu       sync.Mutex
	text     strings.Builder
	kinds    []DeltaKind
	resets   int
	failures []string
	failOn   DeltaKind
	failErr  error
}

func (h *recordingHandler) HandleDelta(ctx context.Context, d Delta) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kinds = append(h.kinds, d.Kind)
	if h.failErr != nil && d.Kind == h.failOn {
		return h.failErr
	}
	if d.Kind == DeltaText || d.Kind == DeltaReasoning {
		h.text.WriteString(d.Text)
	}
	return nil
}

func (h *recordingHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resets++
	h.text.Reset()
}

func (h *recordingHandler) HandleFailure(ctx context.Context, vendorMessage string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, vendorMessage)
}

func (h *recordingHandler) lastKind() DeltaKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kinds[len(h.kinds)-1]
}

func writeEvents(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, line := range lines {
		fmt.Fprintf(w, "%s\n\n", line)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func contentLine(text string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`, text)
}

func newTestClient(url string) *Client {
	return NewClient(ClientConfig{URL: url, MaxAttempts: 3}, nil)
}

func TestClient_StreamSuccess(t *testing.T) {
	var gotHeaders http.Header
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		writeEvents(w, contentLine("Hel"), ": ping", contentLine("lo"), "data: [DONE]")
	}))
	defer server.Close()

	h := &recordingHandler{}
	err := newTestClient(server.URL).Stream(context.Background(), Request{Body: []byte(`{"k":1}`)}, h)
	require.NoError(t, err)

	assert.Equal(t, "Hello", h.text.String())
	assert.Equal(t, DeltaTerminal, h.lastKind())
	assert.Zero(t, h.resets)
	assert.Empty(t, h.failures)

	assert.Equal(t, `{"k":1}`, gotBody)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "text/event-stream", gotHeaders.Get("Accept"))
	assert.Equal(t, "no-cache", gotHeaders.Get("Cache-Control"))
	assert.NotEmpty(t, gotHeaders.Get("X-Request-ID"))
}

func TestClient_RetriesTransportFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		writeEvents(w, contentLine("ok"), "data: [DONE]")
	}))
	defer server.Close()

	h := &recordingHandler{}
	err := newTestClient(server.URL).Stream(context.Background(), Request{}, h)
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, h.resets)
	assert.Equal(t, "ok", h.text.String())
	assert.Empty(t, h.failures)
}

func TestClient_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	h := &recordingHandler{}
	err := newTestClient(server.URL).Stream(context.Background(), Request{}, h)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusServiceUnavailable, transportErr.StatusCode)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, h.resets, "reset before each retry")
	assert.Equal(t, []string{""}, h.failures, "failure path fires once")
}

func TestClient_MidStreamFailureResetsPartialContent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeEvents(w, contentLine("partial "))
			panic(http.ErrAbortHandler)
		}
		writeEvents(w, contentLine("complete"), "data: [DONE]")
	}))
	defer server.Close()

	h := &recordingHandler{}
	err := newTestClient(server.URL).Stream(context.Background(), Request{}, h)
	require.NoError(t, err)

	assert.Equal(t, 1, h.resets)
	assert.Equal(t, "complete", h.text.String())
}

func TestClient_UpstreamErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEvents(w, contentLine("a"), `data: {"error":{"message":"content filtered"}}`, contentLine("never"))
	}))
	defer server.Close()

	h := &recordingHandler{}
	err := newTestClient(server.URL).Stream(context.Background(), Request{}, h)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "content filtered", upstream.Message)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, DeltaError, h.lastKind())
	assert.Empty(t, h.failures)
	assert.Equal(t, "a", h.text.String())
}

func TestClient_EOFWithoutTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, contentLine("cut"))
	}))
	defer server.Close()

	h := &recordingHandler{}
	err := newTestClient(server.URL).Stream(context.Background(), Request{}, h)
	require.NoError(t, err)
	assert.Equal(t, DeltaTerminal, h.lastKind())
	assert.Equal(t, "cut", h.text.String())
}

func TestClient_HandlerErrorIsFatal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEvents(w, contentLine("x"), "data: [DONE]")
	}))
	defer server.Close()

	saveErr := errors.New("saving answer: disk full")
	h := &recordingHandler{failOn: DeltaTerminal, failErr: saveErr}
	err := newTestClient(server.URL).Stream(context.Background(), Request{}, h)

	assert.ErrorIs(t, err, saveErr)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, h.failures)
}

func TestClient_LongLines(t *testing.T) {
	long := strings.Repeat("x", 256*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, contentLine(long), "data: [DONE]")
	}))
	defer server.Close()

	h := &recordingHandler{}
	require.NoError(t, newTestClient(server.URL).Stream(context.Background(), Request{}, h))
	assert.Equal(t, len(long), h.text.Len())
}

func TestClient_CanceledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	h := &recordingHandler{}
	err := newTestClient(server.URL).Stream(ctx, Request{}, h)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, h.failures)
}
