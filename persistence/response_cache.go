package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lexcodex/codeforge/framework"
)

// Response cache defaults.
const (
	DefaultCacheTTL        = 10 * time.Minute
	DefaultCacheMaxEntries = 100
	// CacheContextPrefix is how much of the rendered context feeds the key.
	CacheContextPrefix = 2000
)

// CacheEntry is a memoised completion.
type CacheEntry struct {
	Key       string                   `json:"key"`
	Text      string                   `json:"text"`
	Files     []framework.ArtifactFile `json:"files,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
}

// ResponseCache memoises (agent, request, context) to completion output with
// a TTL and least-recently-used eviction.
type ResponseCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, CacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

// CacheOption customises a ResponseCache.
type CacheOption func(*ResponseCache)

// WithTTL sets the entry lifetime. Non-positive values keep the default.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *ResponseCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ResponseCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewResponseCache builds a cache holding at most maxEntries entries. A
// non-positive size uses DefaultCacheMaxEntries.
func NewResponseCache(maxEntries int, opts ...CacheOption) (*ResponseCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	entries, err := lru.New[string, CacheEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	c := &ResponseCache{entries: entries, ttl: DefaultCacheTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CacheKey hashes agent, request and the first CacheContextPrefix characters
// of context.
func CacheKey(agent, request, context string) string {
	if runes := []rune(context); len(runes) > CacheContextPrefix {
		context = string(runes[:CacheContextPrefix])
	}
	h := sha256.New()
	for _, part := range []string{agent, request, context} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the entry for key. Entries older than the TTL are removed and
// reported as misses.
func (c *ResponseCache) Get(key string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Get(key)
	if !ok {
		return CacheEntry{}, false
	}
	if c.now().Sub(entry.CreatedAt) > c.ttl {
		c.entries.Remove(key)
		return CacheEntry{}, false
	}
	entry.Files = append([]framework.ArtifactFile(nil), entry.Files...)
	return entry, true
}

// Put stores text and files under key, evicting the least recently used
// entry when the cache is full.
func (c *ResponseCache) Put(key, text string, files []framework.ArtifactFile) error {
	if key == "" {
		return errors.New("cache key required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, CacheEntry{
		Key:       key,
		Text:      text,
		Files:     append([]framework.ArtifactFile(nil), files...),
		CreatedAt: c.now(),
	})
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *ResponseCache) Len() int {
	return c.entries.Len()
}

// Purge drops every entry.
func (c *ResponseCache) Purge() {
	c.entries.Purge()
}
