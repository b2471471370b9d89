// Package valuation appends the portfolio-value time series. A snapshot is
// taken after every committed trade: cash plus each holding priced at the
// live quote, falling back to the holding's average cost when the quote
// source cannot price that ticker.
package valuation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nichotieno/vspt/internal/metrics"
	"github.com/nichotieno/vspt/internal/model"
	"github.com/nichotieno/vspt/internal/quote"
	"github.com/nichotieno/vspt/internal/store"
)

// Recorder computes and appends valuation snapshots. It is the sole writer
// of the valuation history.
type Recorder struct {
	store  store.Store
	source quote.Source
}

// NewRecorder creates a recorder backed by the given store and quote source.
func NewRecorder(st store.Store, src quote.Source) *Recorder {
	return &Recorder{store: st, source: src}
}

// RecordSnapshot computes total portfolio value for a user and appends one
// snapshot. Quote failures are tolerated per ticker: a holding the upstream
// cannot price is valued at its average cost instead, so one bad ticker
// never blanks the whole snapshot.
func (r *Recorder) RecordSnapshot(ctx context.Context, userID string) (*model.ValuationSnapshot, error) {
	u, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	positions, err := r.store.GetPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	total := u.Cash
	for _, p := range positions {
		price := p.AvgCost
		q, err := r.source.GetQuote(ctx, p.Ticker)
		if err != nil {
			metrics.QuoteFallbacksTotal.Inc()
			slog.Warn("quote unavailable, valuing at avg cost",
				"user", userID,
				"ticker", p.Ticker,
				"err", err,
			)
		} else {
			price = q.Current
		}
		total = total.Add(p.Quantity.Mul(price))
	}

	snap := &model.ValuationSnapshot{
		ID:        uuid.New().String(),
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Value:     total,
	}
	if err := r.store.InsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	metrics.SnapshotsTotal.Inc()
	return snap, nil
}
