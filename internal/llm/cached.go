package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/logsight/ds-analyzer/internal/cache"
)

const cacheKeyPrefix = "ds-analyzer:completion:"

// CachedCompleter reuses completions for identical model and prompt pairs.
type CachedCompleter struct {
	next   Completer
	cache  cache.Provider
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedCompleter wraps next; a nil provider disables caching.
func NewCachedCompleter(next Completer, provider cache.Provider, ttl time.Duration, logger *slog.Logger) *CachedCompleter {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedCompleter{next: next, cache: provider, ttl: ttl, logger: logger}
}

// Complete serves from cache when possible. Cache failures never fail the call.
func (c *CachedCompleter) Complete(ctx context.Context, prompt, model string) (string, error) {
	if c.next == nil {
		return "", ErrNotConfigured
	}
	key := CacheKey(model, prompt)

	if data, err := c.cache.Get(ctx, key); err == nil {
		c.logger.Debug("completion cache hit", slog.String("key", key))
		return string(data), nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("completion cache read failed", slog.String("error", err.Error()))
	}

	text, err := c.next.Complete(ctx, prompt, model)
	if err != nil {
		return "", err
	}
	if c.ttl > 0 {
		if err := c.cache.Set(ctx, key, []byte(text), c.ttl); err != nil {
			c.logger.Warn("completion cache write failed", slog.String("error", err.Error()))
		}
	}
	return text, nil
}

// CacheKey derives the cache key for a model and prompt pair.
func CacheKey(model, prompt string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + prompt))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
