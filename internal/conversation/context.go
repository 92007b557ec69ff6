// ABOUTME: In-memory per-user conversation context: active session, model and reply thread
// ABOUTME: Keyed by frontend, user and provider; also remembers each user's selected provider

package conversation

import "sync"

// Key identifies one user's context with one provider on one frontend
type Key struct {
	Frontend string
	UserID   string
	Provider string
}

// Context is the conversation state a prompt is sent in
type Context struct {
	SessionID   int64
	SessionName string
	Model       string
	// ParentID is the last question of the thread being continued, 0 for a new thread
	ParentID int64
	// SearchOffset and Search page through /history results
	SearchOffset int
	Search       string
}

// Contexts is a concurrency-safe context table.
type Contexts struct {
	mu       sync.Mutex
	entries  map[Key]*Context
	selected map[userKey]string
}

type userKey struct {
	frontend string
	userID   string
}

// NewContexts returns an empty table.
func NewContexts() *Contexts {
	return &Contexts{
		entries:  make(map[Key]*Context),
		selected: make(map[userKey]string),
	}
}

// Get returns a copy of the context for key.
func (c *Contexts) Get(key Key) (Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, ok := c.entries[key]
	if !ok {
		return Context{}, false
	}
	return *ctx, true
}

// Update applies fn to the context for key, creating it when missing, and
// returns the result.
func (c *Contexts) Update(key Key, fn func(*Context)) Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, ok := c.entries[key]
	if !ok {
		ctx = &Context{}
		c.entries[key] = ctx
	}
	fn(ctx)
	return *ctx
}

// Reset forgets the reply thread so the next prompt starts a new chain.
func (c *Contexts) Reset(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx, ok := c.entries[key]; ok {
		ctx.ParentID = 0
	}
}

// Delete drops the context for key.
func (c *Contexts) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Select records provider as the user's active provider.
func (c *Contexts) Select(frontend, userID, provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected[userKey{frontend, userID}] = provider
}

// Selected returns the user's active provider command.
func (c *Contexts) Selected(frontend, userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.selected[userKey{frontend, userID}]
	return p, ok
}
