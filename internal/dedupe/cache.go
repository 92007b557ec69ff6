// ABOUTME: Bounded TTL set of inbound message keys so redelivered updates are handled once
// ABOUTME: Oldest keys are evicted first; a janitor goroutine drops expired keys

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers message keys for a TTL, holding at most maxSize of them.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // *entry, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	janitor time.Duration

	stop   chan struct{}
	stopped sync.Once
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithJanitor sets how often expired keys are swept. Zero disables sweeping.
func WithJanitor(interval time.Duration) Option {
	return func(c *Cache) { c.janitor = interval }
}

// New creates a cache. Keys expire after ttl; beyond maxSize the oldest key is dropped.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
		janitor: time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.janitor > 0 {
		go c.sweepLoop(c.janitor)
	}
	return c
}

// Key joins a frontend name and its message id.
func Key(frontend, messageID string) string {
	return frontend + ":" + messageID
}

// Seen reports whether key was recorded within the TTL and records it if not.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		e.seenAt = now
		c.order.MoveToBack(el)
		return false
	}

	for len(c.index) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seenAt: now})
	return false
}

// Len returns the number of remembered keys, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Sweep drops expired keys.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	// order is by last sighting, so expired keys sit at the front
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		if now.Sub(el.Value.(*entry).seenAt) < c.ttl {
			return
		}
		c.removeLocked(el)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.index, el.Value.(*entry).key)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the janitor. It is safe to call more than once.
func (c *Cache) Close() {
	c.stopped.Do(func() { close(c.stop) })
}
