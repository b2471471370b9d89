// Package model defines the core domain types shared across the simulator.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides recorded in the transaction log.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// StartingCash is the simulated cash grant every account begins with.
var StartingCash = decimal.NewFromInt(100000)

// User is a simulator account. Cash is the uninvested balance and is only
// mutated by the ledger engine.
type User struct {
	ID           string          `json:"id" db:"id"`
	Email        string          `json:"email" db:"email"`
	Name         string          `json:"name" db:"name"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Cash         decimal.Decimal `json:"cash" db:"cash"`
	Strategy     string          `json:"strategy" db:"strategy"` // free-form investment strategy note
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position is a user's current holding in one ticker. Quantity is always
// positive while the position exists; a fully sold position is deleted,
// never kept at zero.
type Position struct {
	UserID   string          `json:"user_id" db:"user_id"`
	Ticker   string          `json:"ticker" db:"ticker"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost" db:"avg_cost"` // weighted mean cost per share
}

// Transaction is an immutable record of one executed trade.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Side      string          `json:"side" db:"side"` // "BUY" or "SELL"
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"` // executed price per share
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// ValuationSnapshot is one point of the portfolio-value time series:
// cash + Σ(quantity × priced value), appended after each trade.
type ValuationSnapshot struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Value     decimal.Decimal `json:"value" db:"value"`
}

// Quote is the externally supplied price for a ticker.
type Quote struct {
	Ticker        string          `json:"ticker"`
	Current       decimal.Decimal `json:"current"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Open          decimal.Decimal `json:"open"`
	PrevClose     decimal.Decimal `json:"prev_close"`
}

// AccountState is the read-side aggregation served to consumers: the latest
// committed cash, holdings, watchlist, transaction log (newest first), and
// valuation history (oldest first).
type AccountState struct {
	UserID           string              `json:"user_id"`
	Name             string              `json:"name"`
	Strategy         string              `json:"strategy"`
	Cash             decimal.Decimal     `json:"cash"`
	Positions        []Position          `json:"positions"`
	Watchlist        []string            `json:"watchlist"`
	Transactions     []Transaction       `json:"transactions"`
	ValuationHistory []ValuationSnapshot `json:"valuation_history"`
}
