package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/nichotieno/vspt/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Trade atomicity mirrors the Postgres behavior: WithUserTx stages every
// change and applies nothing unless fn succeeds. A per-user mutex gives the
// same serialization a row lock provides, without blocking other users.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	positions map[string]map[string]model.Position // userID → ticker → position
	txLog     map[string][]model.Transaction       // userID → append-only log
	watchlist map[string]map[string]bool           // userID → ticker set
	history   map[string][]model.ValuationSnapshot // userID → snapshots

	lockMu    sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		positions: make(map[string]map[string]model.Position),
		txLog:     make(map[string][]model.Transaction),
		watchlist: make(map[string]map[string]bool),
		history:   make(map[string][]model.ValuationSnapshot),
		userLocks: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

// --- Accounts ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			copy := *u
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateProfile(_ context.Context, id, name, strategy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Name = name
	u.Strategy = strategy
	return nil
}

// --- Atomic trade scope ---

func (s *MemoryStore) WithUserTx(_ context.Context, userID string, fn func(tx UserTx) error) error {
	// Serialize trades per user; other users are unaffected.
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	u, ok := s.users[userID]
	if !ok {
		s.mu.RUnlock()
		return ErrNotFound
	}
	tx := &memUserTx{
		store:   s,
		userID:  userID,
		cash:    u.Cash,
		puts:    make(map[string]model.Position),
		deletes: make(map[string]bool),
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err // nothing staged is applied
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.cashDirty {
		s.users[userID].Cash = tx.cash
	}
	pos, ok := s.positions[userID]
	if !ok {
		pos = make(map[string]model.Position)
		s.positions[userID] = pos
	}
	for ticker, p := range tx.puts {
		pos[ticker] = p
	}
	for ticker := range tx.deletes {
		delete(pos, ticker)
	}
	s.txLog[userID] = append(s.txLog[userID], tx.inserts...)
	return nil
}

type memUserTx struct {
	store     *MemoryStore
	userID    string
	cash      decimal.Decimal
	cashDirty bool
	puts      map[string]model.Position
	deletes   map[string]bool
	inserts   []model.Transaction
}

func (t *memUserTx) Cash() decimal.Decimal { return t.cash }

func (t *memUserTx) SetCash(c decimal.Decimal) {
	t.cash = c
	t.cashDirty = true
}

func (t *memUserTx) Position(_ context.Context, ticker string) (*model.Position, error) {
	if t.deletes[ticker] {
		return nil, nil
	}
	if p, ok := t.puts[ticker]; ok {
		copy := p
		return &copy, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	p, ok := t.store.positions[t.userID][ticker]
	if !ok {
		return nil, nil
	}
	copy := p
	return &copy, nil
}

func (t *memUserTx) UpsertPosition(_ context.Context, p *model.Position) error {
	delete(t.deletes, p.Ticker)
	t.puts[p.Ticker] = *p
	return nil
}

func (t *memUserTx) DeletePosition(_ context.Context, ticker string) error {
	delete(t.puts, ticker)
	t.deletes[ticker] = true
	return nil
}

func (t *memUserTx) InsertTransaction(_ context.Context, tr *model.Transaction) error {
	t.inserts = append(t.inserts, *tr)
	return nil
}

// --- Reads ---

func (s *MemoryStore) GetPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions[userID] {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Ticker < positions[j].Ticker })
	return positions, nil
}

func (s *MemoryStore) GetTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.txLog[userID]
	// Newest first: reverse of append (commit) order.
	txs := make([]model.Transaction, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		txs = append(txs, log[i])
	}
	return txs, nil
}

// --- Watchlist ---

func (s *MemoryStore) GetWatchlist(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tickers []string
	for t := range s.watchlist[userID] {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers, nil
}

func (s *MemoryStore) AddToWatchlist(_ context.Context, userID, ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watchlist[userID]
	if !ok {
		w = make(map[string]bool)
		s.watchlist[userID] = w
	}
	w[ticker] = true
	return nil
}

func (s *MemoryStore) RemoveFromWatchlist(_ context.Context, userID, ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.watchlist[userID], ticker)
	return nil
}

// --- Valuation time series ---

func (s *MemoryStore) InsertSnapshot(_ context.Context, snap *model.ValuationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[snap.UserID] = append(s.history[snap.UserID], *snap)
	return nil
}

func (s *MemoryStore) GetValuationHistory(_ context.Context, userID string) ([]model.ValuationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]model.ValuationSnapshot, len(s.history[userID]))
	copy(history, s.history[userID])
	return history, nil
}
