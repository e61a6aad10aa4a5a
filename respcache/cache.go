// Package respcache is a small in-memory TTL cache for idempotent GET
// responses. Eviction is FIFO by insertion order, not LRU.
package respcache

import (
	"bytes"
	"net/url"
	"strings"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 100
)

// Entry is one cached response body.
type Entry struct {
	Key      string
	Data     []byte
	StoredAt time.Time
	TTL      time.Duration
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, *Entry]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxSize bounds the number of entries. Values below 1 are ignored.
func WithMaxSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithTTL sets the TTL used when Set is called without one.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries: orderedmap.New[string, *Entry](),
		maxSize: DefaultMaxSize,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the cache key for a request.
func Key(method, rawURL string, params url.Values) string {
	return strings.ToUpper(method) + ":" + rawURL + ":" + params.Encode()
}

// Get returns a copy of the cached data for key. Expired entries are
// removed and reported as missing.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		c.entries.Delete(key)
		return nil, false
	}
	return bytes.Clone(e.Data), true
}

// Set stores data under key. A ttl of zero or less uses the default. When
// the cache is full the oldest entry is evicted first. Overwriting a key
// re-inserts it as the newest entry.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Delete(key)
	if c.entries.Len() >= c.maxSize {
		if oldest := c.entries.Oldest(); oldest != nil {
			c.entries.Delete(oldest.Key)
		}
	}
	c.entries.Set(key, &Entry{Key: key, Data: bytes.Clone(data), StoredAt: c.now(), TTL: ttl})
}

// Invalidate removes every key containing pattern. An empty pattern clears
// the cache. It returns the number of entries removed.
func (c *Cache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		n := c.entries.Len()
		c.entries = orderedmap.New[string, *Entry]()
		return n
	}

	var doomed []string
	for p := c.entries.Oldest(); p != nil; p = p.Next() {
		if strings.Contains(p.Key, pattern) {
			doomed = append(doomed, p.Key)
		}
	}
	for _, k := range doomed {
		c.entries.Delete(k)
	}
	return len(doomed)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
