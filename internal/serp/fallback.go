package serp

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Fallback queries Primary and, when it fails, Secondary. A nil Secondary
// means no fallback credential is configured.
type Fallback struct {
	Primary   Provider
	Secondary Provider
	Logger    *slog.Logger
}

// Search implements Provider. An empty but successful primary result is
// returned as-is.
func (f *Fallback) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := Validate(query, limit); err != nil {
		return nil, err
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results, err := f.Primary.Search(ctx, query, limit)
	if err == nil {
		return results, nil
	}
	if f.Secondary == nil || errors.Is(err, context.Canceled) {
		return nil, Classify("serp.search", err)
	}

	logger.Warn("primary search failed, using fallback", "query", query, "err", err)
	results, serr := f.Secondary.Search(ctx, query, limit)
	if serr != nil {
		logger.Error("fallback search failed", "query", query, "primary_err", err, "err", serr)
		return nil, Classify("serp.search", serr)
	}
	return results, nil
}

// Cached memoizes successful searches for a TTL.
type Cached struct {
	next  Provider
	cache *cache.Cache
}

// NewCached wraps next with an in-process cache.
func NewCached(next Provider, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache.New(ttl, 2*ttl)}
}

// Search implements Provider.
func (c *Cached) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := Validate(query, limit); err != nil {
		return nil, err
	}

	key := strings.ToLower(strings.Join(strings.Fields(query), " ")) + "|" + strconv.Itoa(limit)
	if v, ok := c.cache.Get(key); ok {
		return append([]Result(nil), v.([]Result)...), nil
	}

	results, err := c.next.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append([]Result(nil), results...), cache.DefaultExpiration)
	return results, nil
}
