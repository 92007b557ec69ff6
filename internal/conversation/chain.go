// ABOUTME: Rebuilds linear conversation chains from parent-linked questions and their answers
// ABOUTME: Chains feed the gateway request history in the provider's content mode

package conversation

import (
	"context"
	"fmt"

	"github.com/2389/coven-relay/internal/gateway"
	"github.com/2389/coven-relay/internal/store"
)

// Turn is one question or answer in a chain
type Turn struct {
	ID       int64
	ParentID int64 // questions only
	Role     string
	Kind     store.ContentType
	Content  string
}

// Chain is an ordered question/answer sequence starting at a root question
type Chain []Turn

// LastQuestionID returns the id of the chain's last question, or 0.
func (c Chain) LastQuestionID() int64 {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == gateway.RoleUser {
			return c[i].ID
		}
	}
	return 0
}

// ChainBuilder reads history from a store.
type ChainBuilder struct {
	history store.HistoryStore
}

// NewChainBuilder creates a chain builder over history.
func NewChainBuilder(history store.HistoryStore) *ChainBuilder {
	return &ChainBuilder{history: history}
}

// Build returns one chain per root question across sessionIDs, in ascending
// root id order. When two questions share a parent the later one continues
// the chain.
func (b *ChainBuilder) Build(ctx context.Context, sessionIDs []int64) ([]Chain, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	questions, err := b.history.BatchGetQuestionsInSessions(ctx, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("loading questions: %w", err)
	}
	answers, err := b.history.BatchGetAnswersInSessions(ctx, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("loading answers: %w", err)
	}

	byID := make(map[int64]*store.Question, len(questions))
	ordered := make([]*store.Question, 0, len(questions))
	for _, q := range questions {
		if !knownType(q.Type) {
			continue
		}
		byID[q.ID] = q
		ordered = append(ordered, q)
	}

	next := make(map[int64]int64, len(ordered))
	var roots []int64
	for _, q := range ordered {
		if _, ok := byID[q.ParentID]; q.ParentID == 0 || !ok {
			roots = append(roots, q.ID)
			continue
		}
		next[q.ParentID] = q.ID
	}

	answerOf := make(map[int64]*store.Answer, len(answers))
	for _, a := range answers {
		if _, ok := byID[a.QuestionID]; !ok || !knownType(a.Type) {
			continue
		}
		answerOf[a.QuestionID] = a
	}

	chains := make([]Chain, 0, len(roots))
	visited := make(map[int64]bool, len(ordered))
	for _, root := range roots {
		var chain Chain
		for id := root; id != 0 && !visited[id]; id = next[id] {
			visited[id] = true
			q := byID[id]
			chain = append(chain, Turn{ID: q.ID, ParentID: q.ParentID, Role: gateway.RoleUser, Kind: q.Type, Content: q.Content})
			if a, ok := answerOf[id]; ok {
				chain = append(chain, Turn{ID: a.ID, Role: gateway.RoleAssistant, Kind: a.Type, Content: a.Content})
			}
		}
		chains = append(chains, chain)
	}
	return chains, nil
}

func knownType(t store.ContentType) bool {
	return t == store.ContentText || t == store.ContentImage
}

// Messages converts chains into gateway history, one message list per chain.
func Messages(chains []Chain, mode gateway.Mode) [][]gateway.Message {
	out := make([][]gateway.Message, 0, len(chains))
	for _, chain := range chains {
		out = append(out, chain.Messages(mode))
	}
	return out
}

// Messages converts one chain into gateway history.
func (c Chain) Messages(mode gateway.Mode) []gateway.Message {
	msgs := make([]gateway.Message, 0, len(c))
	for _, t := range c {
		part := gateway.ContentPart{Type: gateway.PartText, Text: t.Content}
		if t.Kind == store.ContentImage {
			part = gateway.ContentPart{Type: gateway.PartImageURL, ImageURL: t.Content}
		}
		msgs = append(msgs, gateway.NewMessage(mode, t.Role, part))
	}
	return msgs
}

// Pick returns the chain whose last question is parentID. With no match it
// returns the only chain when there is exactly one, else nil.
func Pick(chains []Chain, parentID int64) Chain {
	if parentID != 0 {
		for _, c := range chains {
			if c.LastQuestionID() == parentID {
				return c
			}
		}
	}
	if len(chains) == 1 {
		return chains[0]
	}
	return nil
}
