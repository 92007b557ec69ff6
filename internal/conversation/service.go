// ABOUTME: Service sends one prompt: records the question, rebuilds history and streams the answer
// ABOUTME: The question is saved before the gateway is called so every turn has a record

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-relay/internal/gateway"
	"github.com/2389/coven-relay/internal/locale"
	"github.com/2389/coven-relay/internal/render"
	"github.com/2389/coven-relay/internal/store"
)

// ErrNoSession means the user has no active session for the provider
var ErrNoSession = errors.New("no active session")

// Streamer runs one gateway request against a handler
type Streamer interface {
	Stream(ctx context.Context, req gateway.Request, h gateway.Handler) error
}

// Service is the prompt pipeline shared by all frontends.
type Service struct {
	history  store.HistoryStore
	chains   *ChainBuilder
	streamer Streamer
	contexts *Contexts
	locale   *locale.Bundle
	window   time.Duration
	logger   *slog.Logger
}

// ServiceConfig holds the Service dependencies
type ServiceConfig struct {
	History  store.HistoryStore
	Streamer Streamer
	Contexts *Contexts
	Locale   *locale.Bundle
	// LimitWindow spaces streaming edits, render.DefaultLimitWindow when 0
	LimitWindow time.Duration
	Logger      *slog.Logger
}

// NewService creates a new Service
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	contexts := cfg.Contexts
	if contexts == nil {
		contexts = NewContexts()
	}
	return &Service{
		history:  cfg.History,
		chains:   NewChainBuilder(cfg.History),
		streamer: cfg.Streamer,
		contexts: contexts,
		locale:   cfg.Locale,
		window:   cfg.LimitWindow,
		logger:   logger.With("component", "conversation"),
	}
}

// Contexts returns the context table the service reads and advances.
func (s *Service) Contexts() *Contexts {
	return s.contexts
}

// PromptRequest is one user prompt to answer
type PromptRequest struct {
	Key      Key
	Target   render.Target
	Lang     string
	Prompt   string
	Provider gateway.Provider
	Renderer *render.Renderer
}

// SendPrompt records the prompt, streams the answer into the chat and blocks
// until the turn is fully rendered.
func (s *Service) SendPrompt(ctx context.Context, req PromptRequest) error {
	cur, ok := s.contexts.Get(req.Key)
	if !ok || cur.SessionID == 0 {
		return ErrNoSession
	}

	// 1. Rebuild the thread being continued
	var chain Chain
	parentID := cur.ParentID
	if parentID != 0 {
		chains, err := s.chains.Build(ctx, []int64{cur.SessionID})
		if err != nil {
			return fmt.Errorf("building history: %w", err)
		}
		chain = Pick(chains, parentID)
		if last := chain.LastQuestionID(); last != 0 {
			parentID = last
		}
	}

	// 2. Record the question FIRST
	question := &store.Question{
		SessionID: cur.SessionID,
		ParentID:  parentID,
		Type:      store.ContentText,
		Content:   req.Prompt,
	}
	if err := s.history.SaveQuestion(ctx, question); err != nil {
		return fmt.Errorf("recording question: %w", err)
	}
	s.contexts.Update(req.Key, func(c *Context) {
		if c.SessionID == cur.SessionID {
			c.ParentID = question.ID
		}
	})

	logger := s.logger.With(
		"session_id", cur.SessionID,
		"question_id", question.ID,
		"provider", req.Provider.Command(),
		"model", cur.Model,
	)
	logger.Info("turn started", "history_messages", len(chain))

	// 3. Encode the request for the provider
	body, err := req.Provider.BuildRequest(chain.Messages(req.Provider.Mode()), req.Prompt, cur.Model)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	// 4. Stream into the chat
	turn := req.Renderer.NewTurn(req.Target, render.NewState(cur.SessionID, question.ID, s.window), req.Lang)
	defer turn.Wait()

	streamErr := s.streamer.Stream(ctx, gateway.Request{
		Body:           body,
		Style:          req.Provider.Style(),
		ThinkingPrefix: s.locale.Text("thinking_prefix", req.Lang),
	}, turn)
	if streamErr != nil {
		return fmt.Errorf("streaming answer: %w", streamErr)
	}
	return nil
}

// Resume makes session the active chat for key, continuing after its latest question.
func (s *Service) Resume(ctx context.Context, key Key, session *store.Session) (Context, error) {
	questions, err := s.history.BatchGetQuestionsInSessions(ctx, []int64{session.ID})
	if err != nil {
		return Context{}, fmt.Errorf("loading questions: %w", err)
	}
	var latest int64
	for _, q := range questions {
		latest = max(latest, q.ID)
	}
	return s.contexts.Update(key, func(c *Context) {
		c.SessionID = session.ID
		c.SessionName = session.Name
		c.Model = session.Model
		c.ParentID = latest
	}), nil
}
