package store

import (
	"context"
	"errors"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nichotieno/vspt/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Per-user trade serialization relies on SELECT ... FOR UPDATE on the
// user row, so concurrent trades for one user commit one at a time while
// other users proceed unblocked.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPool creates a pgx pool with the shopspring decimal codec registered
// on every connection.
func NewPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Accounts ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, cash, strategy, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Cash, u.Strategy, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser(ctx, `WHERE email = $1`, email)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, cash, strategy, created_at
		 FROM users `+where, arg).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Cash, &u.Strategy, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id, name, strategy string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET name = $2, strategy = $3 WHERE id = $1`,
		id, name, strategy,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Atomic trade scope ---

func (s *PostgresStore) WithUserTx(ctx context.Context, userID string, fn func(tx UserTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock serializes all trades for this user until commit.
	var cash decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT cash FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&cash)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock user %s: %w", userID, err)
	}

	ut := &pgUserTx{tx: tx, userID: userID, cash: cash}
	if err := fn(ut); err != nil {
		return err
	}

	if ut.cashDirty {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET cash = $2 WHERE id = $1`, userID, ut.cash); err != nil {
			return fmt.Errorf("update cash: %w", err)
		}
	}
	return tx.Commit(ctx)
}

type pgUserTx struct {
	tx        pgx.Tx
	userID    string
	cash      decimal.Decimal
	cashDirty bool
}

func (t *pgUserTx) Cash() decimal.Decimal { return t.cash }

func (t *pgUserTx) SetCash(c decimal.Decimal) {
	t.cash = c
	t.cashDirty = true
}

func (t *pgUserTx) Position(ctx context.Context, ticker string) (*model.Position, error) {
	var p model.Position
	err := t.tx.QueryRow(ctx,
		`SELECT user_id, ticker, quantity, avg_cost
		 FROM positions WHERE user_id = $1 AND ticker = $2`,
		t.userID, ticker).
		Scan(&p.UserID, &p.Ticker, &p.Quantity, &p.AvgCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", ticker, err)
	}
	return &p, nil
}

func (t *pgUserTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, ticker, quantity, avg_cost)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, ticker)
		 DO UPDATE SET quantity = EXCLUDED.quantity, avg_cost = EXCLUDED.avg_cost`,
		p.UserID, p.Ticker, p.Quantity, p.AvgCost,
	)
	return err
}

func (t *pgUserTx) DeletePosition(ctx context.Context, ticker string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND ticker = $2`,
		t.userID, ticker,
	)
	return err
}

func (t *pgUserTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, ticker, side, quantity, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID, tr.UserID, tr.Ticker, tr.Side, tr.Quantity, tr.Price, tr.Timestamp,
	)
	return err
}

// --- Reads ---

func (s *PostgresStore) GetPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, ticker, quantity, avg_cost
		 FROM positions WHERE user_id = $1 ORDER BY ticker`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.UserID, &p.Ticker, &p.Quantity, &p.AvgCost); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, ticker, side, quantity, price, timestamp
		 FROM transactions WHERE user_id = $1 ORDER BY timestamp DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Ticker, &t.Side, &t.Quantity, &t.Price, &t.Timestamp); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// --- Watchlist ---

func (s *PostgresStore) GetWatchlist(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker FROM watchlist WHERE user_id = $1 ORDER BY ticker`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

func (s *PostgresStore) AddToWatchlist(ctx context.Context, userID, ticker string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist (user_id, ticker) VALUES ($1, $2)
		 ON CONFLICT (user_id, ticker) DO NOTHING`,
		userID, ticker,
	)
	return err
}

func (s *PostgresStore) RemoveFromWatchlist(ctx context.Context, userID, ticker string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist WHERE user_id = $1 AND ticker = $2`,
		userID, ticker,
	)
	return err
}

// --- Valuation time series ---

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *model.ValuationSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO valuation_history (id, user_id, timestamp, value)
		 VALUES ($1, $2, $3, $4)`,
		snap.ID, snap.UserID, snap.Timestamp, snap.Value,
	)
	return err
}

func (s *PostgresStore) GetValuationHistory(ctx context.Context, userID string) ([]model.ValuationSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, timestamp, value
		 FROM valuation_history WHERE user_id = $1 ORDER BY timestamp ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.ValuationSnapshot
	for rows.Next() {
		var s model.ValuationSnapshot
		if err := rows.Scan(&s.ID, &s.UserID, &s.Timestamp, &s.Value); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}
