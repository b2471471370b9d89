package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/nichotieno/vspt/internal/model"
	"github.com/nichotieno/vspt/internal/quote"
	"github.com/nichotieno/vspt/internal/store"
	"github.com/nichotieno/vspt/internal/trade"
	"github.com/nichotieno/vspt/internal/valuation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// stubQuotes serves fixed prices; unknown tickers fail like a dead upstream.
type stubQuotes struct {
	prices map[string]decimal.Decimal
}

func (s *stubQuotes) GetQuote(_ context.Context, ticker string) (*model.Quote, error) {
	p, ok := s.prices[ticker]
	if !ok {
		return nil, quote.ErrUnavailable
	}
	return &model.Quote{Ticker: ticker, Current: p}, nil
}

// failingRecorder simulates a valuation recorder whose persistence is down.
type failingRecorder struct{}

func (failingRecorder) RecordSnapshot(context.Context, string) (*model.ValuationSnapshot, error) {
	return nil, errors.New("snapshot store down")
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*trade.Service, *store.MemoryStore, chi.Router, *stubQuotes) {
	t.Helper()
	ms := store.NewMemoryStore()
	quotes := &stubQuotes{prices: map[string]decimal.Decimal{}}
	rec := valuation.NewRecorder(ms, quotes)
	svc := trade.NewService(ms, rec, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/trade", svc.ExecuteTrade)
	r.Get("/api/v1/accounts/{userID}", svc.GetAccountState)
	r.Put("/api/v1/accounts/{userID}/profile", svc.UpdateProfile)
	r.Post("/api/v1/watchlist/toggle", svc.ToggleWatchlistHandler)

	return svc, ms, r, quotes
}

// seedUser creates a test user with the given cash directly in the store.
func seedUser(t *testing.T, ms *store.MemoryStore, id string, cash decimal.Decimal) {
	t.Helper()
	err := ms.CreateUser(context.Background(), &model.User{
		ID:        id,
		Email:     id + "@example.com",
		Name:      "Test " + id,
		Cash:      cash,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func doTrade(t *testing.T, router chi.Router, req trade.TradeRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/trade", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func getCash(t *testing.T, ms *store.MemoryStore, userID string) decimal.Decimal {
	t.Helper()
	u, err := ms.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to get user: %v", err)
	}
	return u.Cash
}

func getPosition(t *testing.T, ms *store.MemoryStore, userID, ticker string) *model.Position {
	t.Helper()
	positions, err := ms.GetPositions(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to get positions: %v", err)
	}
	for i := range positions {
		if positions[i].Ticker == ticker {
			return &positions[i]
		}
	}
	return nil
}

// --- Buy tests ---

func TestBuy_NewPosition(t *testing.T) {
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)

	w := doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY",
		Quantity: d(10), Price: d(150),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.TransactionID == "" {
		t.Error("expected non-empty transaction_id")
	}

	if cash := getCash(t, ms, "user1"); !cash.Equal(d(98500)) {
		t.Errorf("expected cash=98500, got %s", cash)
	}
	pos := getPosition(t, ms, "user1", "AAPL")
	if pos == nil {
		t.Fatal("expected AAPL position")
	}
	if !pos.Quantity.Equal(d(10)) || !pos.AvgCost.Equal(d(150)) {
		t.Errorf("expected qty=10 avg=150, got qty=%s avg=%s", pos.Quantity, pos.AvgCost)
	}

	txs, _ := ms.GetTransactions(context.Background(), "user1")
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}
	if txs[0].Side != model.SideBuy || !txs[0].Price.Equal(d(150)) {
		t.Errorf("unexpected transaction: %+v", txs[0])
	}
	if txs[0].Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestBuy_AveragesCost(t *testing.T) {
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)

	doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(10), Price: d(150),
	})
	w := doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(5), Price: d(160),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if cash := getCash(t, ms, "user1"); !cash.Equal(d(97700)) {
		t.Errorf("expected cash=97700, got %s", cash)
	}
	pos := getPosition(t, ms, "user1", "AAPL")
	if pos == nil {
		t.Fatal("expected AAPL position")
	}
	if !pos.Quantity.Equal(d(15)) {
		t.Errorf("expected qty=15, got %s", pos.Quantity)
	}
	// (150*10 + 160*5) / 15
	wantAvg := d(2300).Div(d(15))
	if !pos.AvgCost.Equal(wantAvg) {
		t.Errorf("expected avg=%s, got %s", wantAvg, pos.AvgCost)
	}
}

func TestBuy_InsufficientFunds(t *testing.T) {
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", d(100))

	w := doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(10), Price: d(150),
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	// Rejection must leave state byte-for-byte unchanged.
	if cash := getCash(t, ms, "user1"); !cash.Equal(d(100)) {
		t.Errorf("expected cash=100, got %s", cash)
	}
	if pos := getPosition(t, ms, "user1", "AAPL"); pos != nil {
		t.Errorf("expected no position, got %+v", pos)
	}
	txs, _ := ms.GetTransactions(context.Background(), "user1")
	if len(txs) != 0 {
		t.Errorf("expected 0 transactions, got %d", len(txs))
	}
	history, _ := ms.GetValuationHistory(context.Background(), "user1")
	if len(history) != 0 {
		t.Errorf("expected no snapshot after rejected trade, got %d", len(history))
	}
}

func TestBuy_ExactCashSpend(t *testing.T) {
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", d(1500))

	// cost == cash is allowed; cash goes to exactly zero.
	w := doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(10), Price: d(150),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if cash := getCash(t, ms, "user1"); !cash.IsZero() {
		t.Errorf("expected cash=0, got %s", cash)
	}
}

// --- Sell tests ---

func TestSell_FullScenario(t *testing.T) {
	// The canonical sequence: 100000 → buy 10@150 → buy 5@160 →
	// sell 15@170 → 100250 with the position removed.
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)

	doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(10), Price: d(150),
	})
	doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(5), Price: d(160),
	})
	w := doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "SELL", Quantity: d(15), Price: d(170),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if cash := getCash(t, ms, "user1"); !cash.Equal(d(100250)) {
		t.Errorf("expected cash=100250, got %s", cash)
	}
	if pos := getPosition(t, ms, "user1", "AAPL"); pos != nil {
		t.Errorf("fully liquidated position should be deleted, got %+v", pos)
	}
	txs, _ := ms.GetTransactions(context.Background(), "user1")
	if len(txs) != 3 {
		t.Errorf("expected 3 transactions, got %d", len(txs))
	}
}

func TestSell_PartialKeepsAvgCost(t *testing.T) {
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)

	doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(10), Price: d(150),
	})
	w := doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "SELL", Quantity: d(4), Price: d(200),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	pos := getPosition(t, ms, "user1", "AAPL")
	if pos == nil {
		t.Fatal("expected remaining position")
	}
	if !pos.Quantity.Equal(d(6)) {
		t.Errorf("expected qty=6, got %s", pos.Quantity)
	}
	// Partial sells never touch the cost basis.
	if !pos.AvgCost.Equal(d(150)) {
		t.Errorf("expected avg=150 unchanged, got %s", pos.AvgCost)
	}
	if cash := getCash(t, ms, "user1"); !cash.Equal(d(99300)) {
		t.Errorf("expected cash=99300, got %s", cash)
	}
}

func TestSell_InsufficientShares(t *testing.T) {
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)

	doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(5), Price: d(150),
	})
	w := doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "SELL", Quantity: d(6), Price: d(150),
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	pos := getPosition(t, ms, "user1", "AAPL")
	if pos == nil || !pos.Quantity.Equal(d(5)) {
		t.Errorf("position should be untouched, got %+v", pos)
	}
	if cash := getCash(t, ms, "user1"); !cash.Equal(d(99250)) {
		t.Errorf("cash should be untouched at 99250, got %s", cash)
	}
}

func TestSell_TickerNeverHeld(t *testing.T) {
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)

	w := doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "MSFT", Side: "SELL", Quantity: d(1), Price: d(100),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	txs, _ := ms.GetTransactions(context.Background(), "user1")
	if len(txs) != 0 {
		t.Errorf("expected 0 transactions, got %d", len(txs))
	}
}

// --- Validation tests ---

func TestExecuteTrade_Validation(t *testing.T) {
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)

	cases := []struct {
		name string
		req  trade.TradeRequest
	}{
		{"zero quantity", trade.TradeRequest{UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: decimal.Zero, Price: d(150)}},
		{"negative quantity", trade.TradeRequest{UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(-5), Price: d(150)}},
		{"negative price", trade.TradeRequest{UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(5), Price: d(-1)}},
		{"bad side", trade.TradeRequest{UserID: "user1", Ticker: "AAPL", Side: "HOLD", Quantity: d(5), Price: d(150)}},
		{"bad ticker", trade.TradeRequest{UserID: "user1", Ticker: "aapl!", Side: "BUY", Quantity: d(5), Price: d(150)}},
		{"missing user", trade.TradeRequest{Ticker: "AAPL", Side: "BUY", Quantity: d(5), Price: d(150)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doTrade(t, router, tc.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	if cash := getCash(t, ms, "user1"); !cash.Equal(model.StartingCash) {
		t.Errorf("rejected trades must not touch cash, got %s", cash)
	}
}

func TestExecuteTrade_UnknownUser(t *testing.T) {
	_, _, router, _ := newTestEnv(t)

	w := doTrade(t, router, trade.TradeRequest{
		UserID: "ghost", Ticker: "AAPL", Side: "BUY", Quantity: d(1), Price: d(1),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteTrade_ZeroPriceAccepted(t *testing.T) {
	// The engine trusts the caller-supplied execution price; zero is legal.
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", d(50))

	w := doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "FREE", Side: "BUY", Quantity: d(10), Price: decimal.Zero,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if cash := getCash(t, ms, "user1"); !cash.Equal(d(50)) {
		t.Errorf("expected cash unchanged at 50, got %s", cash)
	}
}

// --- Property tests ---

func TestBuy_AvgCostLaw(t *testing.T) {
	// avg' = (avg*qty + q*p) / (qty+q) across random buy sequences.
	svc, ms, _, _ := newTestEnv(t)
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()

	seedUser(t, ms, "prop", decimal.NewFromInt(100000000))

	var wantQty, wantCostTotal decimal.Decimal
	for i := 0; i < 50; i++ {
		qty := decimal.NewFromInt(int64(rng.Intn(99) + 1))
		price := decimal.New(int64(rng.Intn(99999)+1), -2) // 0.01 .. 999.99

		if _, err := svc.Buy(ctx, "prop", "RAND", qty, price); err != nil {
			t.Fatalf("buy %d failed: %v", i, err)
		}
		wantQty = wantQty.Add(qty)
		wantCostTotal = wantCostTotal.Add(qty.Mul(price))

		pos := getPosition(t, ms, "prop", "RAND")
		if pos == nil {
			t.Fatal("expected position")
		}
		if !pos.Quantity.Equal(wantQty) {
			t.Fatalf("after buy %d: expected qty=%s, got %s", i, wantQty, pos.Quantity)
		}
		wantAvg := wantCostTotal.Div(wantQty)
		if pos.AvgCost.Sub(wantAvg).Abs().GreaterThan(decimal.New(1, -9)) {
			t.Fatalf("after buy %d: expected avg≈%s, got %s", i, wantAvg, pos.AvgCost)
		}
	}
}

func TestTrades_CashConservation(t *testing.T) {
	// cash_after = cash_before - Σ buys + Σ sells, exactly.
	svc, ms, _, _ := newTestEnv(t)
	rng := rand.New(rand.NewSource(11))
	ctx := context.Background()

	start := decimal.NewFromInt(1000000)
	seedUser(t, ms, "prop", start)

	expected := start
	held := decimal.Zero
	for i := 0; i < 100; i++ {
		qty := decimal.NewFromInt(int64(rng.Intn(20) + 1))
		price := decimal.New(int64(rng.Intn(9999)+1), -2)

		if rng.Intn(2) == 0 || held.LessThan(qty) {
			if _, err := svc.Buy(ctx, "prop", "RAND", qty, price); err != nil {
				t.Fatalf("buy %d failed: %v", i, err)
			}
			expected = expected.Sub(qty.Mul(price))
			held = held.Add(qty)
		} else {
			if _, err := svc.Sell(ctx, "prop", "RAND", qty, price); err != nil {
				t.Fatalf("sell %d failed: %v", i, err)
			}
			expected = expected.Add(qty.Mul(price))
			held = held.Sub(qty)
		}
	}

	if cash := getCash(t, ms, "prop"); !cash.Equal(expected) {
		t.Errorf("expected cash=%s, got %s", expected, cash)
	}
}

// --- Concurrency tests ---

func TestConcurrentTrades_NoLostUpdate(t *testing.T) {
	svc, ms, _, _ := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := svc.Buy(ctx, "user1", "AAPL", d(1), d(100)); err != nil {
				t.Errorf("concurrent buy failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// Final state must equal sequential application in any order.
	if cash := getCash(t, ms, "user1"); !cash.Equal(d(100000 - n*100)) {
		t.Errorf("lost update: expected cash=%d, got %s", 100000-n*100, cash)
	}
	pos := getPosition(t, ms, "user1", "AAPL")
	if pos == nil || !pos.Quantity.Equal(d(n)) {
		t.Errorf("lost update: expected qty=%d, got %+v", n, pos)
	}
	txs, _ := ms.GetTransactions(context.Background(), "user1")
	if len(txs) != n {
		t.Errorf("expected %d transactions, got %d", n, len(txs))
	}
}

func TestConcurrentBuySell_Consistent(t *testing.T) {
	svc, ms, _, _ := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)
	ctx := context.Background()

	// Seed a position big enough that every sell can fill.
	if _, err := svc.Buy(ctx, "user1", "AAPL", d(100), d(100)); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			if _, err := svc.Buy(ctx, "user1", "AAPL", d(1), d(100)); err != nil {
				t.Errorf("buy failed: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			if _, err := svc.Sell(ctx, "user1", "AAPL", d(1), d(100)); err != nil {
				t.Errorf("sell failed: %v", err)
			}
		}
	}()
	wg.Wait()

	// 10 buys and 10 sells at the same price cancel out.
	if cash := getCash(t, ms, "user1"); !cash.Equal(d(90000)) {
		t.Errorf("expected cash=90000, got %s", cash)
	}
	pos := getPosition(t, ms, "user1", "AAPL")
	if pos == nil || !pos.Quantity.Equal(d(100)) {
		t.Errorf("expected qty=100, got %+v", pos)
	}
}

// --- Post-commit side effects ---

func TestTrade_RecordsValuationSnapshot(t *testing.T) {
	_, ms, router, quotes := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)
	quotes.prices["AAPL"] = d(155)

	doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(10), Price: d(150),
	})

	history, _ := ms.GetValuationHistory(context.Background(), "user1")
	if len(history) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(history))
	}
	// 98500 cash + 10 * 155 live quote.
	if !history[0].Value.Equal(d(100050)) {
		t.Errorf("expected snapshot value=100050, got %s", history[0].Value)
	}
}

func TestTrade_SnapshotFailureDoesNotFailTrade(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := trade.NewService(ms, failingRecorder{}, nil)
	seedUser(t, ms, "user1", model.StartingCash)

	r := chi.NewRouter()
	r.Post("/api/v1/trade", svc.ExecuteTrade)

	w := doTrade(t, r, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(10), Price: d(150),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("trade must survive snapshot failure, got %d: %s", w.Code, w.Body.String())
	}
	if cash := getCash(t, ms, "user1"); !cash.Equal(d(98500)) {
		t.Errorf("expected cash=98500, got %s", cash)
	}
}

// --- Watchlist ---

func TestToggleWatchlist(t *testing.T) {
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)

	toggle := func(watched bool) *httptest.ResponseRecorder {
		body, _ := json.Marshal(trade.WatchlistRequest{UserID: "user1", Ticker: "TSLA", Watched: watched})
		req := httptest.NewRequest("POST", "/api/v1/watchlist/toggle", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := toggle(false); w.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d", w.Code)
	}
	watchlist, _ := ms.GetWatchlist(context.Background(), "user1")
	if len(watchlist) != 1 || watchlist[0] != "TSLA" {
		t.Errorf("expected [TSLA], got %v", watchlist)
	}

	// Adding again with a stale flag is idempotent at the store level.
	if w := toggle(false); w.Code != http.StatusOK {
		t.Fatalf("re-add: expected 200, got %d", w.Code)
	}
	watchlist, _ = ms.GetWatchlist(context.Background(), "user1")
	if len(watchlist) != 1 {
		t.Errorf("expected 1 entry, got %v", watchlist)
	}

	if w := toggle(true); w.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", w.Code)
	}
	watchlist, _ = ms.GetWatchlist(context.Background(), "user1")
	if len(watchlist) != 0 {
		t.Errorf("expected empty watchlist, got %v", watchlist)
	}
}

// --- Account state ---

func TestGetAccountState(t *testing.T) {
	_, ms, router, quotes := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)
	quotes.prices["AAPL"] = d(150)
	ms.AddToWatchlist(context.Background(), "user1", "NVDA")

	doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "BUY", Quantity: d(10), Price: d(150),
	})
	doTrade(t, router, trade.TradeRequest{
		UserID: "user1", Ticker: "AAPL", Side: "SELL", Quantity: d(3), Price: d(160),
	})

	req := httptest.NewRequest("GET", "/api/v1/accounts/user1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var state model.AccountState
	json.Unmarshal(w.Body.Bytes(), &state)

	if state.UserID != "user1" {
		t.Errorf("expected user_id=user1, got %s", state.UserID)
	}
	if len(state.Positions) != 1 || !state.Positions[0].Quantity.Equal(d(7)) {
		t.Errorf("unexpected positions: %+v", state.Positions)
	}
	if len(state.Watchlist) != 1 || state.Watchlist[0] != "NVDA" {
		t.Errorf("unexpected watchlist: %v", state.Watchlist)
	}
	// Transactions newest first.
	if len(state.Transactions) != 2 || state.Transactions[0].Side != model.SideSell {
		t.Errorf("expected newest-first transactions, got %+v", state.Transactions)
	}
	// Valuation history oldest first, one snapshot per trade.
	if len(state.ValuationHistory) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(state.ValuationHistory))
	}
	if state.ValuationHistory[0].Timestamp.After(state.ValuationHistory[1].Timestamp) {
		t.Error("valuation history should be oldest first")
	}
}

func TestGetAccountState_UnknownUser(t *testing.T) {
	_, _, router, _ := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/accounts/nobody", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Profile ---

func TestUpdateProfile(t *testing.T) {
	_, ms, router, _ := newTestEnv(t)
	seedUser(t, ms, "user1", model.StartingCash)

	body, _ := json.Marshal(trade.ProfileRequest{Name: "Renamed", Strategy: "buy and hold"})
	req := httptest.NewRequest("PUT", "/api/v1/accounts/user1/profile", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	u, _ := ms.GetUser(context.Background(), "user1")
	if u.Name != "Renamed" || u.Strategy != "buy and hold" {
		t.Errorf("profile not updated: %+v", u)
	}
}
