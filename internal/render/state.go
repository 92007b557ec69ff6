// ABOUTME: Per-turn render state shared by the stream goroutine and deferred re-checks
// ABOUTME: Buffer fields sit behind a small mutex, render fields behind the render mutex

package render

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLimitWindow is the minimum spacing between streaming edits
const DefaultLimitWindow = time.Second

// State is the render state of one turn. It must not be shared across turns.
type State struct {
	ConversationID int64 // session id
	TurnID         int64 // question id
	LimitWindow    time.Duration

	bufMu       sync.Mutex
	accumulated strings.Builder
	finished    bool

	// mu serializes renders; fields below are only touched with it held
	mu           sync.Mutex
	lastSent     string
	lastUpdateAt time.Time
	handle       *Handle
	finalized    bool
	edits        int

	aborted   atomic.Bool
	persisted atomic.Bool
	pending   atomic.Bool
	timers    sync.WaitGroup
}

// NewState creates the state for one turn.
func NewState(conversationID, turnID int64, window time.Duration) *State {
	if window <= 0 {
		window = DefaultLimitWindow
	}
	return &State{
		ConversationID: conversationID,
		TurnID:         turnID,
		LimitWindow:    window,
	}
}

// Append adds streamed text.
func (s *State) Append(text string) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	s.accumulated.WriteString(text)
}

// Finish marks the stream complete.
func (s *State) Finish() {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	s.finished = true
}

// Reset discards accumulated text before a retry. Already shown text stays
// until the next render replaces it.
func (s *State) Reset() {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	s.accumulated.Reset()
	s.finished = false
}

// Snapshot returns the accumulated text and whether the stream finished.
func (s *State) Snapshot() (string, bool) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return s.accumulated.String(), s.finished
}

// Accumulated returns the text received so far.
func (s *State) Accumulated() string {
	text, _ := s.Snapshot()
	return text
}

// Persisted reports whether the answer has been handed to the store.
func (s *State) Persisted() bool {
	return s.persisted.Load()
}

// Aborted reports whether the turn ended on the error path.
func (s *State) Aborted() bool {
	return s.aborted.Load()
}
