// ABOUTME: TTL cache mapping idempotency keys to the task ids they created
// ABOUTME: Size-limited with oldest-first eviction so retried submissions do not queue twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the remembered value and its position in insertion order.
type entry struct {
	key     string
	value   string
	stored  time.Time
	element *list.Element
}

// Cache remembers a value per key for a TTL. When full, the oldest key is
// evicted. Expired keys are dropped lazily on access.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	keep    func(value string) bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithKeepAlive renews an expiring entry instead of dropping it while keep
// reports its value as still in use. keep runs with the cache locked.
func WithKeepAlive(keep func(value string) bool) Option {
	return func(c *Cache) {
		c.keep = keep
	}
}

// New creates a cache with the given TTL and maximum size.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored for key if it has not expired.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked(c.now())
	e, ok := c.seen[key]
	if !ok {
		return "", false
	}
	return e.value, true
}

// Put stores value under key, replacing and refreshing any previous value.
func (c *Cache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expireLocked(now)

	if e, exists := c.seen[key]; exists {
		e.value = value
		e.stored = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	e := &entry{key: key, value: value, stored: now}
	e.element = c.order.PushBack(e)
	c.seen[key] = e
}

// Forget removes key.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Len returns the number of unexpired keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked(c.now())
	return len(c.seen)
}

// expireLocked drops expired entries from the front. Entries are ordered by
// stored time because Put and renewals always move to the back. Each entry
// is looked at once per call.
func (c *Cache) expireLocked(now time.Time) {
	for n := c.order.Len(); n > 0; n-- {
		front := c.order.Front()
		e := front.Value.(*entry)
		if now.Sub(e.stored) < c.ttl {
			return
		}
		if c.keep != nil && c.keep(e.value) {
			e.stored = now
			c.order.MoveToBack(front)
			continue
		}
		c.order.Remove(front)
		delete(c.seen, e.key)
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	e := front.Value.(*entry)
	c.order.Remove(front)
	delete(c.seen, e.key)
}
