package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshMargin is how long before expiry a cached token is treated
// as stale.
const DefaultRefreshMargin = 5 * time.Minute

type cacheEntry struct {
	token Token
}

// CachedProvider wraps a TokenProvider with a per-resource token cache.
// Tokens are refreshed when expired or within the refresh margin, and
// concurrent refreshes for the same resource are coalesced so at most one
// request is in flight.
type CachedProvider struct {
	inner  TokenProvider
	logger *slog.Logger
	margin time.Duration

	mu    sync.RWMutex
	cache map[string]*cacheEntry

	group singleflight.Group
}

// CachedOption configures a CachedProvider.
type CachedOption func(*CachedProvider)

// WithRefreshMargin sets the pre-expiry refresh margin.
func WithRefreshMargin(margin time.Duration) CachedOption {
	return func(c *CachedProvider) {
		c.margin = margin
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) CachedOption {
	return func(c *CachedProvider) {
		c.logger = logger
	}
}

// NewCachedProvider wraps inner with caching and coalesced refresh.
func NewCachedProvider(inner TokenProvider, opts ...CachedOption) *CachedProvider {
	c := &CachedProvider{
		inner:  inner,
		logger: slog.Default(),
		margin: DefaultRefreshMargin,
		cache:  make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedProvider) Token(ctx context.Context, resource string) (Token, error) {
	c.mu.RLock()
	if entry, ok := c.cache[resource]; ok && c.fresh(entry.token) {
		c.mu.RUnlock()
		return entry.token, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(resource, func() (interface{}, error) {
		// Double-check after winning the singleflight slot: another caller
		// may have refreshed while this one was queued.
		c.mu.RLock()
		if entry, ok := c.cache[resource]; ok && c.fresh(entry.token) {
			c.mu.RUnlock()
			return entry.token, nil
		}
		c.mu.RUnlock()

		tok, err := c.inner.Token(ctx, resource)
		if err != nil {
			return Token{}, err
		}

		c.mu.Lock()
		c.cache[resource] = &cacheEntry{token: tok}
		c.mu.Unlock()

		c.logger.Debug("auth: token refreshed", "resource", resource, "expires_at", tok.ExpiresAt)
		return tok, nil
	})
	if err != nil {
		return Token{}, err
	}
	return result.(Token), nil
}

// Invalidate drops the cached token for a resource. Executors call this
// after a 401/403 response so the next Token call fetches a fresh one.
func (c *CachedProvider) Invalidate(resource string) {
	c.mu.Lock()
	delete(c.cache, resource)
	c.mu.Unlock()
	c.logger.Debug("auth: cached token invalidated", "resource", resource)
}

func (c *CachedProvider) fresh(tok Token) bool {
	return time.Until(tok.ExpiresAt) > c.margin
}
