// Package store defines the persistence interface for the simulator.
// Implementations include PostgreSQL (source of truth) and in-memory
// (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/nichotieno/vspt/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateEmail is returned by CreateUser when the email is
	// already registered (unique-constraint violation).
	ErrDuplicateEmail = errors.New("store: email already registered")
)

// Store is the persistence interface. All reads reflect the latest
// committed state.
type Store interface {
	// --- Accounts ---

	// CreateUser persists a new user. Returns ErrDuplicateEmail if the
	// email is taken.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// UpdateProfile updates the display name and strategy note.
	UpdateProfile(ctx context.Context, id, name, strategy string) error

	// --- Atomic trade scope ---

	// WithUserTx runs fn inside a transaction scoped to one user's rows,
	// serialized against any other trade for the same user. If fn returns
	// an error every staged change is rolled back; otherwise all changes
	// commit as one unit.
	WithUserTx(ctx context.Context, userID string, fn func(tx UserTx) error) error

	// --- Reads ---

	// GetPositions returns all open positions for a user.
	GetPositions(ctx context.Context, userID string) ([]model.Position, error)

	// GetTransactions returns the user's trade log, newest first.
	GetTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// --- Watchlist ---

	// GetWatchlist returns the user's watched tickers.
	GetWatchlist(ctx context.Context, userID string) ([]string, error)

	// AddToWatchlist inserts a watchlist entry. Idempotent.
	AddToWatchlist(ctx context.Context, userID, ticker string) error

	// RemoveFromWatchlist deletes a watchlist entry. Idempotent.
	RemoveFromWatchlist(ctx context.Context, userID, ticker string) error

	// --- Valuation time series ---

	// InsertSnapshot appends one valuation snapshot. Never overwrites.
	InsertSnapshot(ctx context.Context, s *model.ValuationSnapshot) error

	// GetValuationHistory returns snapshots oldest first.
	GetValuationHistory(ctx context.Context, userID string) ([]model.ValuationSnapshot, error)
}

// UserTx is the state visible inside one atomic trade scope. The user row
// is locked for the duration: reads see committed state, writes are staged
// and become visible only when WithUserTx commits.
type UserTx interface {
	// Cash returns the user's balance as of lock acquisition, adjusted
	// by any SetCash already staged in this scope.
	Cash() decimal.Decimal

	// SetCash stages a new cash balance.
	SetCash(c decimal.Decimal)

	// Position returns the user's position in ticker, or (nil, nil) when
	// no position exists.
	Position(ctx context.Context, ticker string) (*model.Position, error)

	// UpsertPosition stages a position create-or-update.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// DeletePosition stages removal of the position in ticker.
	DeletePosition(ctx context.Context, ticker string) error

	// InsertTransaction stages an append to the immutable trade log.
	InsertTransaction(ctx context.Context, t *model.Transaction) error
}
