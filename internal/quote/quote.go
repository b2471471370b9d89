// Package quote supplies market data for tickers. The live implementation
// talks to a finnhub-style REST API; a deterministic mock stands in when no
// API key is configured. The upstream is treated as fallible: callers must
// tolerate a per-ticker error without aborting their whole aggregation.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nichotieno/vspt/internal/model"
)

// ErrUnavailable is returned when the upstream cannot supply data for a
// ticker (network failure, bad status, missing data).
var ErrUnavailable = errors.New("quote: upstream unavailable")

// Source supplies a current price for a ticker. This is the only method the
// valuation recorder depends on.
type Source interface {
	GetQuote(ctx context.Context, ticker string) (*model.Quote, error)
}

// Provider is the full market-data surface: quotes plus the candle, symbol
// search, and news lookups served as read-only passthrough endpoints.
type Provider interface {
	Source
	GetCandles(ctx context.Context, ticker, resolution string, from, to int64) (*Candles, error)
	SearchSymbols(ctx context.Context, query string) ([]SymbolMatch, error)
	GetCompanyNews(ctx context.Context, ticker string, from, to time.Time) ([]NewsItem, error)
}

// Candles is OHLCV history in the upstream's columnar layout.
type Candles struct {
	Status  string    `json:"s"`
	Times   []int64   `json:"t"`
	Opens   []float64 `json:"o"`
	Highs   []float64 `json:"h"`
	Lows    []float64 `json:"l"`
	Closes  []float64 `json:"c"`
	Volumes []float64 `json:"v"`
}

// SymbolMatch is one symbol-search result.
type SymbolMatch struct {
	Symbol        string `json:"symbol"`
	DisplaySymbol string `json:"displaySymbol"`
	Description   string `json:"description"`
	Type          string `json:"type"`
}

// NewsItem is one company news article.
type NewsItem struct {
	ID       int64  `json:"id"`
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
	Image    string `json:"image"`
	Related  string `json:"related"`
}

// Client is the live REST client.
type Client struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

// NewClient creates a live market-data client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: "https://finnhub.io/api/v1",
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// NewClientWithBaseURL is used by tests to point the client at a stub server.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = baseURL
	return c
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("token", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return nil
}

// GetQuote fetches the latest quote for a ticker. A response with a
// non-positive current price is treated as missing data.
func (c *Client) GetQuote(ctx context.Context, ticker string) (*model.Quote, error) {
	var raw struct {
		C  decimal.Decimal `json:"c"`
		D  decimal.Decimal `json:"d"`
		DP decimal.Decimal `json:"dp"`
		H  decimal.Decimal `json:"h"`
		L  decimal.Decimal `json:"l"`
		O  decimal.Decimal `json:"o"`
		PC decimal.Decimal `json:"pc"`
	}
	params := url.Values{"symbol": {ticker}}
	if err := c.get(ctx, "/quote", params, &raw); err != nil {
		return nil, err
	}
	if !raw.C.IsPositive() {
		return nil, fmt.Errorf("%w: no price for %s", ErrUnavailable, ticker)
	}
	return &model.Quote{
		Ticker:        ticker,
		Current:       raw.C,
		Change:        raw.D,
		ChangePercent: raw.DP,
		High:          raw.H,
		Low:           raw.L,
		Open:          raw.O,
		PrevClose:     raw.PC,
	}, nil
}

// GetCandles fetches OHLCV history for a ticker.
func (c *Client) GetCandles(ctx context.Context, ticker, resolution string, from, to int64) (*Candles, error) {
	var candles Candles
	params := url.Values{
		"symbol":     {ticker},
		"resolution": {resolution},
		"from":       {fmt.Sprintf("%d", from)},
		"to":         {fmt.Sprintf("%d", to)},
	}
	if err := c.get(ctx, "/stock/candle", params, &candles); err != nil {
		return nil, err
	}
	return &candles, nil
}

// SearchSymbols looks up tickers matching a query.
func (c *Client) SearchSymbols(ctx context.Context, query string) ([]SymbolMatch, error) {
	var raw struct {
		Result []SymbolMatch `json:"result"`
	}
	if err := c.get(ctx, "/search", url.Values{"q": {query}}, &raw); err != nil {
		return nil, err
	}
	return raw.Result, nil
}

// GetCompanyNews fetches recent news for a ticker.
func (c *Client) GetCompanyNews(ctx context.Context, ticker string, from, to time.Time) ([]NewsItem, error) {
	var items []NewsItem
	params := url.Values{
		"symbol": {ticker},
		"from":   {from.Format("2006-01-02")},
		"to":     {to.Format("2006-01-02")},
	}
	if err := c.get(ctx, "/company-news", params, &items); err != nil {
		return nil, err
	}
	return items, nil
}
