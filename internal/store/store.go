// Package store defines persistence for trades, price ticks and run records.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/tradesim/trade-simulator/internal/model"
)

// Store is the persistence interface. The trade table is append-only and
// keyed by trade id; every derived table is recomputed from it.
type Store interface {
	// --- Trades ---

	// ExistingTradeIDs returns every stored trade id.
	ExistingTradeIDs(ctx context.Context) (map[string]struct{}, error)

	// AppendTrades stores trades whose id is not yet present and returns
	// how many were written.
	AppendTrades(ctx context.Context, trades []model.TradeEvent) (int, error)

	// ListTrades returns all stored trades ordered by timestamp.
	ListTrades(ctx context.Context) ([]model.TradeEvent, error)

	// --- Prices ---

	// RecordPrices upserts price ticks keyed by symbol and timestamp.
	RecordPrices(ctx context.Context, points []model.PricePoint) error

	// Prices returns ticks for the given symbols (case-insensitive) at or after since.
	Prices(ctx context.Context, symbols []string, since time.Time) ([]model.PricePoint, error)

	// --- Runs ---

	// RecordRun persists a run summary.
	RecordRun(ctx context.Context, run *model.Run) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
}
