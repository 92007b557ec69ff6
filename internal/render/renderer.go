// ABOUTME: Rate-limited incremental renderer that streams an answer into one chat message
// ABOUTME: Coalesces renders with TryLock, defers one re-check per window, finalizes and persists once

package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-relay/internal/format"
	"github.com/2389/coven-relay/internal/gateway"
	"github.com/2389/coven-relay/internal/locale"
	"github.com/2389/coven-relay/internal/store"
)

// AnswerSaver persists finished answers
type AnswerSaver interface {
	BatchSaveAnswers(ctx context.Context, answers []*store.Answer) error
}

// Options configures a Renderer
type Options struct {
	MaxLength int // per-message limit in characters, DefaultMaxLength when 0
	Locale    *locale.Bundle
	Logger    *slog.Logger
	Now       func() time.Time
}

// Renderer renders turns for one frontend.
type Renderer struct {
	transport Transport
	answers   AnswerSaver
	maxLength int
	locale    *locale.Bundle
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a renderer writing through transport and persisting to answers.
func New(transport Transport, answers AnswerSaver, opts Options) *Renderer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Renderer{
		transport: transport,
		answers:   answers,
		maxLength: maxLength,
		locale:    opts.Locale,
		logger:    logger.With("component", "renderer"),
		now:       now,
	}
}

// Transport returns the transport the renderer writes through.
func (r *Renderer) Transport() Transport {
	return r.transport
}

// Turn renders one answer. It implements gateway.Handler.
type Turn struct {
	r      *Renderer
	state  *State
	target Target
	lang   string
	logger *slog.Logger
}

var _ gateway.Handler = (*Turn)(nil)

// NewTurn binds state to a chat target. lang selects the locale of fallback texts.
func (r *Renderer) NewTurn(target Target, state *State, lang string) *Turn {
	return &Turn{
		r:      r,
		state:  state,
		target: target,
		lang:   lang,
		logger: r.logger.With("turn_id", state.TurnID, "session_id", state.ConversationID),
	}
}

// State returns the turn's render state.
func (t *Turn) State() *State {
	return t.state
}

// HandleDelta appends content and renders, or finalizes on Terminal and fails on Error.
func (t *Turn) HandleDelta(ctx context.Context, d gateway.Delta) error {
	switch d.Kind {
	case gateway.DeltaText, gateway.DeltaReasoning:
		if t.state.aborted.Load() {
			return nil
		}
		t.state.Append(d.Text)
		t.render(ctx)
		return nil
	case gateway.DeltaTerminal:
		t.state.Finish()
		return t.finalize(ctx)
	case gateway.DeltaError:
		return t.fail(ctx, d.Text)
	default:
		return nil
	}
}

// Reset discards the partial answer before a retry.
func (t *Turn) Reset() {
	t.logger.Debug("resetting partial answer for retry")
	t.state.Reset()
}

// HandleFailure runs the error path after retries are exhausted.
func (t *Turn) HandleFailure(ctx context.Context, vendorMessage string) {
	if err := t.fail(ctx, vendorMessage); err != nil {
		t.logger.Error("failed to record error reply", "error", err)
	}
}

// Wait blocks until any pending deferred re-check has run.
func (t *Turn) Wait() {
	t.state.timers.Wait()
}

// render shows the latest text unless another render holds the lock or the
// window since the last update has not elapsed.
func (t *Turn) render(ctx context.Context) {
	st := t.state
	if !st.mu.TryLock() {
		t.logger.Debug("render in progress, coalescing")
		return
	}
	defer st.mu.Unlock()

	if st.aborted.Load() || st.finalized {
		return
	}

	content, finished := st.Snapshot()
	if !finished && !st.lastUpdateAt.IsZero() {
		if elapsed := t.r.now().Sub(st.lastUpdateAt); elapsed < st.LimitWindow {
			t.schedule(ctx, st.LimitWindow-elapsed)
			return
		}
	}

	t.showFrame(ctx, format.Tail(content, t.r.maxLength))
}

// showFrame sends or edits the streaming message as plain text. Caller holds st.mu.
func (t *Turn) showFrame(ctx context.Context, text string) {
	st := t.state
	if strings.TrimSpace(text) == "" {
		return
	}

	if st.handle == nil {
		h, err := t.r.transport.Send(ctx, t.target, text, ModePlain)
		if err != nil {
			t.logger.Warn("failed to send streaming message", "error", err)
			return
		}
		st.handle = &h
	} else {
		if text == st.lastSent {
			return
		}
		if err := t.r.transport.Edit(ctx, *st.handle, text, ModePlain); err != nil && !errors.Is(err, ErrNotModified) {
			t.logger.Warn("failed to edit streaming message", "error", err)
			return
		}
	}

	st.lastSent = text
	st.lastUpdateAt = t.r.now()
	st.edits++
}

// schedule arms one deferred re-check. Caller holds st.mu.
func (t *Turn) schedule(ctx context.Context, delay time.Duration) {
	st := t.state
	if !st.pending.CompareAndSwap(false, true) {
		return
	}

	st.timers.Add(1)
	detached := context.WithoutCancel(ctx)
	time.AfterFunc(delay, func() {
		defer st.timers.Done()
		st.pending.Store(false)
		t.recheck(detached)
	})
}

func (t *Turn) recheck(ctx context.Context) {
	if t.state.aborted.Load() {
		return
	}
	if _, finished := t.state.Snapshot(); finished {
		if err := t.finalize(ctx); err != nil {
			t.logger.Error("deferred finalize failed", "error", err)
		}
		return
	}
	t.render(ctx)
}

// finalize renders the complete answer with formatting and persists it.
// Concurrent callers converge: only the first renders and persists.
func (t *Turn) finalize(ctx context.Context) error {
	st := t.state
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.aborted.Load() || st.finalized {
		return nil
	}
	st.finalized = true

	content := st.Accumulated()
	t.deliverFinal(ctx, content)

	if err := t.persist(ctx, content); err != nil {
		return err
	}
	t.logger.Info("turn finished", "chars", format.Len(content), "streaming_renders", st.edits)
	return nil
}

// deliverFinal replaces the streaming message with the formatted answer,
// splitting it across messages when it exceeds the limit. Caller holds st.mu.
func (t *Turn) deliverFinal(ctx context.Context, content string) {
	if strings.TrimSpace(content) == "" {
		content = t.r.locale.Text("empty_answer", t.lang)
	}

	formatted := format.MarkdownV2(content)
	chunks := format.Split(formatted, t.r.maxLength)

	if err := t.replace(ctx, chunks[0], ModeMarkdownV2); err != nil {
		t.logger.Warn("formatted final render failed, falling back to plain text", "error", err)
		if err := t.replace(ctx, format.Plain(chunks[0]), ModePlain); err != nil {
			t.logger.Error("failed to render final answer", "error", err)
		}
	}

	for i, chunk := range chunks[1:] {
		if err := t.sendChunk(ctx, chunk); err != nil {
			// stop rather than deliver the rest with a hole in it
			t.logger.Error("failed to send answer chunk", "chunk", i+2, "chunks", len(chunks), "error", err)
			notice := t.r.locale.Text("answer_truncated_reply", t.lang)
			if _, err := t.r.transport.Send(ctx, t.target, notice, ModePlain); err != nil {
				t.logger.Error("failed to send truncation notice", "error", err)
			}
			return
		}
	}
}

// sendChunk sends one follow-up chunk, retrying as plain text on any error.
func (t *Turn) sendChunk(ctx context.Context, chunk string) error {
	_, err := t.r.transport.Send(ctx, t.target, chunk, ModeMarkdownV2)
	if err == nil {
		return nil
	}
	t.logger.Warn("formatted answer chunk failed, resending as plain text", "error", err)
	if _, err := t.r.transport.Send(ctx, t.target, format.Plain(chunk), ModePlain); err != nil {
		return err
	}
	return nil
}

// replace edits the turn's message to text, or sends it when none exists. Caller holds st.mu.
func (t *Turn) replace(ctx context.Context, text string, mode ParseMode) error {
	st := t.state
	if st.handle == nil {
		h, err := t.r.transport.Send(ctx, t.target, text, mode)
		if err != nil {
			return err
		}
		st.handle = &h
	} else if err := t.r.transport.Edit(ctx, *st.handle, text, mode); err != nil && !errors.Is(err, ErrNotModified) {
		return err
	}
	st.lastSent = text
	st.lastUpdateAt = t.r.now()
	return nil
}

// persist saves content as the turn's answer at most once
func (t *Turn) persist(ctx context.Context, content string) error {
	st := t.state
	if !st.persisted.CompareAndSwap(false, true) {
		return nil
	}
	answer := &store.Answer{
		SessionID:  st.ConversationID,
		QuestionID: st.TurnID,
		Type:       store.ContentText,
		Content:    content,
	}
	if err := t.r.answers.BatchSaveAnswers(ctx, []*store.Answer{answer}); err != nil {
		return fmt.Errorf("saving answer for turn %d: %w", st.TurnID, err)
	}
	return nil
}

// fail persists the fallback reply and shows the error. It runs at most once per turn.
func (t *Turn) fail(ctx context.Context, vendorMessage string) error {
	st := t.state
	if !st.aborted.CompareAndSwap(false, true) {
		return nil
	}

	fallback := t.r.locale.Text("server_busy_or_error_reply", t.lang)
	persistErr := t.persist(ctx, fallback)

	text := fallback
	if vendorMessage != "" {
		text = t.r.locale.Text("server_busy_or_error_prefix", t.lang) + vendorMessage
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.finalized = true

	if _, err := t.r.transport.Send(ctx, t.target, format.EscapeText(text), ModeMarkdownV2); err != nil {
		if _, err := t.r.transport.Send(ctx, t.target, text, ModePlain); err != nil {
			t.logger.Error("failed to send error reply", "error", err)
		}
	}

	t.logger.Warn("turn failed", "vendor_message", vendorMessage)
	return persistErr
}
