/**
 * Translation cache
 *
 * Burned-in captions repeat across hundreds of consecutive frames, so the
 * same (text, target) pair is requested over and over. Lookups go through an
 * in-process map first, then Redis, and concurrent misses for the same key
 * share a single backend call.
 */

package translate

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
)

// Cache stores completed translations. Errors are never cached.
type Cache interface {
	Get(ctx context.Context, targetLang, text string) (string, bool)
	Set(ctx context.Context, targetLang, text, translated string)
}

// MemoryCache is an unbounded process-local cache
type MemoryCache struct {
	entries sync.Map
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func memoryKey(targetLang, text string) string {
	return targetLang + "\x00" + text
}

func (c *MemoryCache) Get(_ context.Context, targetLang, text string) (string, bool) {
	v, ok := c.entries.Load(memoryKey(targetLang, text))
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (c *MemoryCache) Set(_ context.Context, targetLang, text, translated string) {
	c.entries.Store(memoryKey(targetLang, text), translated)
}

// Len reports the number of cached entries
func (c *MemoryCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// valueSep separates the source text from its translation in a Redis value
const valueSep = "\x1f"

// RedisCache shares translations between workers through Redis
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisCache creates a Redis-backed cache. A zero ttl keeps entries forever.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "videotranslate:tr"
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logging.NewLogger("RedisTranslationCache"),
	}
}

// Key returns the Redis key for a (targetLang, text) pair
func (c *RedisCache) Key(targetLang, text string) string {
	return c.prefix + ":" + targetLang + ":" + strconv.FormatUint(xxhash.Sum64String(text), 16)
}

// Get treats Redis failures and hash collisions as misses
func (c *RedisCache) Get(ctx context.Context, targetLang, text string) (string, bool) {
	val, err := c.client.Get(ctx, c.Key(targetLang, text)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("Cache lookup failed", "error", err)
		}
		return "", false
	}

	source, translated, found := strings.Cut(val, valueSep)
	if !found || source != text {
		return "", false
	}
	return translated, true
}

func (c *RedisCache) Set(ctx context.Context, targetLang, text, translated string) {
	if err := c.client.Set(ctx, c.Key(targetLang, text), text+valueSep+translated, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to store translation", "error", err)
	}
}

// CachingTranslator wraps a Translator with layered caches
type CachingTranslator struct {
	next   Translator
	caches []Cache
	group  singleflight.Group
}

// NewCachingTranslator consults caches in order before calling next
func NewCachingTranslator(next Translator, caches ...Cache) *CachingTranslator {
	return &CachingTranslator{next: next, caches: caches}
}

func (c *CachingTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	for i, cache := range c.caches {
		if translated, ok := cache.Get(ctx, targetLang, text); ok {
			// backfill the faster layers
			for _, earlier := range c.caches[:i] {
				earlier.Set(ctx, targetLang, text, translated)
			}
			return translated, nil
		}
	}

	v, err, _ := c.group.Do(memoryKey(targetLang, text), func() (interface{}, error) {
		translated, err := c.next.Translate(ctx, text, targetLang)
		if err != nil {
			return "", err
		}
		for _, cache := range c.caches {
			cache.Set(ctx, targetLang, text, translated)
		}
		return translated, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SupportedLanguages forwards to the wrapped translator when it can list languages
func (c *CachingTranslator) SupportedLanguages(ctx context.Context) ([]string, error) {
	lister, ok := c.next.(LanguageLister)
	if !ok {
		return nil, nil
	}
	return lister.SupportedLanguages(ctx)
}
