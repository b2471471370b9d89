package quote

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nichotieno/vspt/internal/model"
)

// MockProvider serves deterministic synthetic data, keyed off the ticker
// string. Used when no API key is configured so the simulator stays usable
// without an upstream account.
type MockProvider struct{}

// NewMockProvider creates a mock market-data provider.
func NewMockProvider() *MockProvider { return &MockProvider{} }

// basePrice maps a ticker to a stable pseudo-price between 20 and 520.
func basePrice(ticker string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(ticker))
	cents := int64(h.Sum32()%50000) + 2000
	return decimal.New(cents, -2)
}

func (m *MockProvider) GetQuote(_ context.Context, ticker string) (*model.Quote, error) {
	price := basePrice(ticker)
	change := price.Mul(decimal.New(1, -2)) // flat +1% day
	return &model.Quote{
		Ticker:        ticker,
		Current:       price,
		Change:        change,
		ChangePercent: decimal.NewFromInt(1),
		High:          price.Add(change),
		Low:           price.Sub(change),
		Open:          price.Sub(change),
		PrevClose:     price.Sub(change),
	}, nil
}

func (m *MockProvider) GetCandles(_ context.Context, ticker, _ string, from, to int64) (*Candles, error) {
	price, _ := basePrice(ticker).Float64()
	candles := &Candles{Status: "ok"}

	day := int64(24 * 60 * 60)
	for t := from; t <= to; t += day {
		candles.Times = append(candles.Times, t)
		candles.Opens = append(candles.Opens, price)
		candles.Highs = append(candles.Highs, price*1.01)
		candles.Lows = append(candles.Lows, price*0.99)
		candles.Closes = append(candles.Closes, price)
		candles.Volumes = append(candles.Volumes, 1e6)
	}
	return candles, nil
}

func (m *MockProvider) SearchSymbols(_ context.Context, query string) ([]SymbolMatch, error) {
	return []SymbolMatch{{
		Symbol:        query,
		DisplaySymbol: query,
		Description:   fmt.Sprintf("%s (mock)", query),
		Type:          "Common Stock",
	}}, nil
}

func (m *MockProvider) GetCompanyNews(_ context.Context, ticker string, _, to time.Time) ([]NewsItem, error) {
	return []NewsItem{{
		ID:       1,
		Datetime: to.Unix(),
		Headline: fmt.Sprintf("%s trades flat in simulated session", ticker),
		Source:   "mock",
		Related:  ticker,
	}}, nil
}
