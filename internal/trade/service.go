// Package trade implements the ledger engine: it validates and applies
// buy/sell orders as atomic state transitions against a user's cash and
// positions, and appends the immutable transaction log. It also carries the
// HTTP handlers for trading, account state, profile, and watchlist.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nichotieno/vspt/internal/metrics"
	"github.com/nichotieno/vspt/internal/model"
	"github.com/nichotieno/vspt/internal/store"
)

var (
	// ErrInvalidQuantity rejects non-positive share quantities.
	ErrInvalidQuantity = errors.New("trade: quantity must be positive")

	// ErrInvalidPrice rejects negative prices. Zero is allowed: the engine
	// trusts the caller-supplied execution price, it does not re-quote.
	ErrInvalidPrice = errors.New("trade: price must not be negative")

	// ErrInvalidTicker rejects malformed ticker symbols.
	ErrInvalidTicker = errors.New("trade: invalid ticker symbol")

	// ErrInsufficientFunds rejects a buy whose cost exceeds available cash.
	ErrInsufficientFunds = errors.New("trade: insufficient funds")

	// ErrInsufficientShares rejects a sell of more shares than held.
	ErrInsufficientShares = errors.New("trade: insufficient shares")
)

// tickerPattern covers exchange symbols like AAPL, BRK.B, RDS-A.
var tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// SnapshotRecorder appends a valuation snapshot for a user. Implemented by
// valuation.Recorder; invoked best-effort after a trade commits.
type SnapshotRecorder interface {
	RecordSnapshot(ctx context.Context, userID string) (*model.ValuationSnapshot, error)
}

// Service is the ledger engine plus its HTTP surface. Per-user trade
// serialization lives in the store's WithUserTx scope (row lock in Postgres,
// per-user mutex in memory), so the service itself holds no locks and trades
// for different users proceed concurrently.
type Service struct {
	store    store.Store
	recorder SnapshotRecorder
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates the ledger engine. Pass nil for recorder to disable
// valuation snapshots and nil for hub if broadcasting is not needed.
func NewService(st store.Store, recorder SnapshotRecorder, hub *WSHub) *Service {
	return &Service{
		store:    st,
		recorder: recorder,
		wsHub:    hub,
	}
}

// --- Core operations ---

func validateOrder(ticker string, quantity, price decimal.Decimal) error {
	if !tickerPattern.MatchString(ticker) {
		return ErrInvalidTicker
	}
	if !quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if price.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

// Buy applies one buy order atomically: cash debit, position upsert with
// weighted-average cost recompute, and transaction append commit as one
// unit or not at all. The supplied price is the execution price.
func (s *Service) Buy(ctx context.Context, userID, ticker string, quantity, price decimal.Decimal) (*model.Transaction, error) {
	if err := validateOrder(ticker, quantity, price); err != nil {
		return nil, err
	}
	cost := quantity.Mul(price)

	var tr *model.Transaction
	err := s.store.WithUserTx(ctx, userID, func(tx store.UserTx) error {
		cash := tx.Cash()
		if cash.LessThan(cost) {
			return ErrInsufficientFunds
		}

		pos, err := tx.Position(ctx, ticker)
		if err != nil {
			return err
		}
		if pos != nil {
			// Weighted-average cost basis, not FIFO/LIFO:
			// newAvg = (oldAvg*oldQty + qty*price) / (oldQty+qty)
			newQty := pos.Quantity.Add(quantity)
			newAvg := pos.AvgCost.Mul(pos.Quantity).Add(cost).Div(newQty)
			pos.Quantity = newQty
			pos.AvgCost = newAvg
		} else {
			pos = &model.Position{
				UserID:   userID,
				Ticker:   ticker,
				Quantity: quantity,
				AvgCost:  price,
			}
		}
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}

		tx.SetCash(cash.Sub(cost))

		tr = &model.Transaction{
			ID:        uuid.New().String(),
			UserID:    userID,
			Ticker:    ticker,
			Side:      model.SideBuy,
			Quantity:  quantity,
			Price:     price,
			Timestamp: time.Now().UTC(),
		}
		return tx.InsertTransaction(ctx, tr)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, tr)
	return tr, nil
}

// Sell applies one sell order atomically: position decrement (average cost
// unchanged) or deletion when fully liquidated, cash credit, and transaction
// append. Realized gain/loss stays implicit in proceeds vs. average cost.
func (s *Service) Sell(ctx context.Context, userID, ticker string, quantity, price decimal.Decimal) (*model.Transaction, error) {
	if err := validateOrder(ticker, quantity, price); err != nil {
		return nil, err
	}
	proceeds := quantity.Mul(price)

	var tr *model.Transaction
	err := s.store.WithUserTx(ctx, userID, func(tx store.UserTx) error {
		pos, err := tx.Position(ctx, ticker)
		if err != nil {
			return err
		}
		if pos == nil || pos.Quantity.LessThan(quantity) {
			return ErrInsufficientShares
		}

		if pos.Quantity.Equal(quantity) {
			// Fully liquidated positions are deleted, never kept at zero.
			if err := tx.DeletePosition(ctx, ticker); err != nil {
				return err
			}
		} else {
			pos.Quantity = pos.Quantity.Sub(quantity)
			if err := tx.UpsertPosition(ctx, pos); err != nil {
				return err
			}
		}

		tx.SetCash(tx.Cash().Add(proceeds))

		tr = &model.Transaction{
			ID:        uuid.New().String(),
			UserID:    userID,
			Ticker:    ticker,
			Side:      model.SideSell,
			Quantity:  quantity,
			Price:     price,
			Timestamp: time.Now().UTC(),
		}
		return tx.InsertTransaction(ctx, tr)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, tr)
	return tr, nil
}

// afterCommit runs the best-effort post-trade side effects: valuation
// snapshot and WebSocket broadcast. Neither can fail the trade.
func (s *Service) afterCommit(ctx context.Context, tr *model.Transaction) {
	metrics.TradesTotal.WithLabelValues(tr.Side).Inc()

	var snapValue string
	if s.recorder != nil {
		snap, err := s.recorder.RecordSnapshot(ctx, tr.UserID)
		if err != nil {
			metrics.SnapshotFailures.Inc()
			slog.Error("valuation snapshot failed",
				"user", tr.UserID,
				"transaction", tr.ID,
				"err", err,
			)
		} else {
			snapValue = snap.Value.String()
		}
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:           "trade_executed",
			UserID:         tr.UserID,
			Ticker:         tr.Ticker,
			Side:           tr.Side,
			Quantity:       tr.Quantity.String(),
			Price:          tr.Price.String(),
			PortfolioValue: snapValue,
		})
	}
}

// ToggleWatchlist inserts the ticker when watched is false, removes it when
// true. Toggle-by-flag keeps the original client contract: two concurrent
// toggles with a stale flag can flip-flop, acceptable for non-financial
// state.
func (s *Service) ToggleWatchlist(ctx context.Context, userID, ticker string, watched bool) error {
	if !tickerPattern.MatchString(ticker) {
		return ErrInvalidTicker
	}
	if watched {
		return s.store.RemoveFromWatchlist(ctx, userID, ticker)
	}
	return s.store.AddToWatchlist(ctx, userID, ticker)
}

// AccountState aggregates the read side: cash, holdings, watchlist,
// transactions newest first, and valuation history oldest first. Pure read.
func (s *Service) AccountState(ctx context.Context, userID string) (*model.AccountState, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	watchlist, err := s.store.GetWatchlist(ctx, userID)
	if err != nil {
		return nil, err
	}
	transactions, err := s.store.GetTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.GetValuationHistory(ctx, userID)
	if err != nil {
		return nil, err
	}

	if positions == nil {
		positions = []model.Position{}
	}
	if watchlist == nil {
		watchlist = []string{}
	}
	if transactions == nil {
		transactions = []model.Transaction{}
	}
	if history == nil {
		history = []model.ValuationSnapshot{}
	}

	return &model.AccountState{
		UserID:           u.ID,
		Name:             u.Name,
		Strategy:         u.Strategy,
		Cash:             u.Cash,
		Positions:        positions,
		Watchlist:        watchlist,
		Transactions:     transactions,
		ValuationHistory: history,
	}, nil
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	UserID   string          `json:"user_id"`
	Ticker   string          `json:"ticker"`
	Side     string          `json:"side"` // "BUY" or "SELL"
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"` // execution price per share
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Ticker        string          `json:"ticker"`
	Side          string          `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
}

// WatchlistRequest is the JSON body for POST /watchlist/toggle.
type WatchlistRequest struct {
	UserID  string `json:"user_id"`
	Ticker  string `json:"ticker"`
	Watched bool   `json:"watched"` // current client-side state
}

// ProfileRequest is the JSON body for PUT /accounts/{userID}/profile.
type ProfileRequest struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
}

// --- HTTP Handlers ---

// ExecuteTrade handles POST /api/v1/trade.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	ctx := r.Context()

	var tr *model.Transaction
	var err error
	switch req.Side {
	case model.SideBuy:
		tr, err = s.Buy(ctx, req.UserID, req.Ticker, req.Quantity, req.Price)
	case model.SideSell:
		tr, err = s.Sell(ctx, req.UserID, req.Ticker, req.Quantity, req.Price)
	default:
		writeError(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrInvalidTicker):
		metrics.TradeRejections.WithLabelValues("validation").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrInsufficientFunds):
		metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
		writeError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, ErrInsufficientShares):
		metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
		writeError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "user not found", http.StatusNotFound)
		return
	default:
		slog.Error("trade failed", "user", req.UserID, "ticker", req.Ticker, "err", err)
		writeError(w, "failed to apply trade", http.StatusInternalServerError)
		return
	}

	metrics.TradeLatency.WithLabelValues(tr.Side).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"transaction", tr.ID,
		"user", tr.UserID,
		"ticker", tr.Ticker,
		"side", tr.Side,
		"qty", tr.Quantity.String(),
		"price", tr.Price.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TradeResponse{
		TransactionID: tr.ID,
		UserID:        tr.UserID,
		Ticker:        tr.Ticker,
		Side:          tr.Side,
		Quantity:      tr.Quantity,
		Price:         tr.Price,
	})
}

// GetAccountState handles GET /api/v1/accounts/{userID}.
func (s *Service) GetAccountState(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	state, err := s.AccountState(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("account state failed", "user", userID, "err", err)
		writeError(w, "failed to load account state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

// ToggleWatchlistHandler handles POST /api/v1/watchlist/toggle.
func (s *Service) ToggleWatchlistHandler(w http.ResponseWriter, r *http.Request) {
	var req WatchlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if err := s.ToggleWatchlist(r.Context(), req.UserID, req.Ticker, req.Watched); err != nil {
		if errors.Is(err, ErrInvalidTicker) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("watchlist toggle failed", "user", req.UserID, "ticker", req.Ticker, "err", err)
		writeError(w, "failed to update watchlist", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"watched": !req.Watched})
}

// UpdateProfile handles PUT /api/v1/accounts/{userID}/profile.
func (s *Service) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	err := s.store.UpdateProfile(r.Context(), userID, req.Name, req.Strategy)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("profile update failed", "user", userID, "err", err)
		writeError(w, "failed to update profile", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
