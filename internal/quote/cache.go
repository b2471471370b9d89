package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nichotieno/vspt/internal/model"
)

// CachedProvider wraps a Provider with a Redis read-through cache for
// quotes. A short TTL keeps valuation snapshots from hammering the upstream
// when a user holds the same tickers across consecutive trades. Candles,
// search, and news pass through uncached.
//
// Cache failures are invisible to callers: a Redis error degrades to a
// direct upstream call.
type CachedProvider struct {
	upstream Provider
	rdb      *redis.Client
	ttl      time.Duration
}

// NewCachedProvider creates a cached wrapper around an upstream provider.
func NewCachedProvider(upstream Provider, rdb *redis.Client, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		upstream: upstream,
		rdb:      rdb,
		ttl:      ttl,
	}
}

func quoteKey(ticker string) string { return fmt.Sprintf("quote:%s", ticker) }

func (c *CachedProvider) GetQuote(ctx context.Context, ticker string) (*model.Quote, error) {
	// Try cache.
	data, err := c.rdb.Get(ctx, quoteKey(ticker)).Bytes()
	if err == nil {
		var q model.Quote
		if json.Unmarshal(data, &q) == nil {
			return &q, nil
		}
	}

	// Cache miss: read from upstream.
	q, err := c.upstream.GetQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(q); err == nil {
		c.rdb.Set(ctx, quoteKey(ticker), data, c.ttl)
	}
	return q, nil
}

// --- Passthrough (not cached) ---

func (c *CachedProvider) GetCandles(ctx context.Context, ticker, resolution string, from, to int64) (*Candles, error) {
	return c.upstream.GetCandles(ctx, ticker, resolution, from, to)
}

func (c *CachedProvider) SearchSymbols(ctx context.Context, query string) ([]SymbolMatch, error) {
	return c.upstream.SearchSymbols(ctx, query)
}

func (c *CachedProvider) GetCompanyNews(ctx context.Context, ticker string, from, to time.Time) ([]NewsItem, error) {
	return c.upstream.GetCompanyNews(ctx, ticker, from, to)
}
