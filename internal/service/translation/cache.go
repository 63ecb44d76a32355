package translation

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
	"time"
)

// cacheEntry holds a cached translation alongside the source text it was produced
// from, so a lookup can detect that the cached value has been outgrown by a later,
// meaningfully longer partial (invalidate-on-extension, spec §4.8).
type cacheEntry struct {
	key        string
	sourceText string
	result     string
	expiresAt  time.Time
}

// cache is a size-bounded, TTL-bounded LRU cache of translated text. One instance
// backs each worker (partial, final) with its own size/TTL policy.
type cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List
	items   map[string]*list.Element
}

func newCache(maxSize int, ttl time.Duration) *cache {
	return &cache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

// get returns the cached translation for key if present, unexpired, and not
// invalidated by the cached source text having been meaningfully extended by
// newText (cached.len < new.len * 0.9).
func (c *cache) get(key, newText string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return "", false
	}
	entry := el.Value.(*cacheEntry)

	if time.Now().After(entry.expiresAt) {
		c.removeElement(el)
		return "", false
	}
	if float64(len(entry.sourceText)) < float64(len(newText))*0.9 {
		c.removeElement(el)
		return "", false
	}

	c.order.MoveToFront(el)
	return entry.result, true
}

func (c *cache) set(key, sourceText, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.sourceText = sourceText
		entry.result = result
		entry.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	entry := &cacheEntry{key: key, sourceText: sourceText, result: result, expiresAt: time.Now().Add(c.ttl)}
	el := c.order.PushFront(entry)
	c.items[key] = el

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}
}

func (c *cache) removeElement(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.order.Remove(el)
}

// buildCacheKey constructs a cache key per spec §4.8: short texts are keyed on a
// prefix alone; long texts add a length bucket and a suffix so that two long,
// differently-tailed completions of the same prefix don't collide.
func buildCacheKey(sourceLang, targetLang, text string) string {
	const shortThreshold = 120
	const edgeLen = 60

	if len(text) <= shortThreshold {
		return fmt.Sprintf("%s|%s|short|%s", sourceLang, targetLang, prefixRunes(text, shortThreshold))
	}

	bucket := (len(text) / 100) * 100
	return fmt.Sprintf("%s|%s|long|%d|%s|%s", sourceLang, targetLang, bucket, prefixRunes(text, edgeLen), suffixRunes(text, edgeLen))
}

func prefixRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func suffixRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// isExtension reports whether next looks like a later partial extending prior:
// not shorter than 60% of prior's length, and sharing prior's leading 100 chars.
func isExtension(prior, next string) bool {
	if prior == "" {
		return true
	}
	if float64(len(next)) < float64(len(prior))*0.6 {
		return false
	}
	return strings.HasPrefix(prefixRunes(next, 100), prefixRunes(prior, 100))
}
