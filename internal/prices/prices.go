// Package prices imports minute bars for traded symbols into the price store.
package prices

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"

	"github.com/tradesim/trade-simulator/internal/model"
	"github.com/tradesim/trade-simulator/internal/store"
)

// MaxMinuteHistory is how far back Yahoo serves 1-minute bars.
const MaxMinuteHistory = 7 * 24 * time.Hour

// Source fetches minute closes for one exchange ticker.
type Source interface {
	Bars(ctx context.Context, ticker string, start, end time.Time) ([]model.PricePoint, error)
}

// Yahoo reads 1-minute bars through finance-go.
type Yahoo struct{}

func (Yahoo) Bars(ctx context.Context, ticker string, start, end time.Time) ([]model.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &chart.Params{
		Symbol:   ticker,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneMin,
	}

	iter := chart.Get(params)
	var out []model.PricePoint
	for iter.Next() {
		bar := iter.Bar()
		if bar.Close.IsZero() {
			continue
		}
		out = append(out, model.PricePoint{
			Symbol:    ticker,
			Timestamp: time.Unix(int64(bar.Timestamp), 0).UTC(),
			Price:     bar.Close,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("bars for %s: %w", ticker, err)
	}
	return out, nil
}

// Importer copies bars for a set of symbols into the store.
type Importer struct {
	src    Source
	st     store.Store
	suffix string
	logger *slog.Logger
}

// NewImporter creates an importer. suffix is appended to each symbol to form
// the exchange ticker, e.g. ".AX".
func NewImporter(src Source, st store.Store, suffix string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{src: src, st: st, suffix: suffix, logger: logger}
}

// Ticker maps a simulator symbol onto the exchange ticker.
func (i *Importer) Ticker(symbol string) string {
	return strings.ToUpper(symbol) + i.suffix
}

// Symbol maps an exchange ticker back to the simulator symbol.
func (i *Importer) Symbol(ticker string) string {
	return strings.ToLower(strings.TrimSuffix(strings.ToUpper(ticker), strings.ToUpper(i.suffix)))
}

// Import fetches bars in [start, end] for every symbol and records them.
// A symbol that fails is logged and skipped. The start is clamped to the
// source's minute history.
func (i *Importer) Import(ctx context.Context, symbols []string, start, end time.Time) (int, error) {
	if floor := end.Add(-MaxMinuteHistory); start.Before(floor) {
		start = floor
	}

	total := 0
	for _, sym := range symbols {
		ticker := i.Ticker(sym)
		bars, err := i.src.Bars(ctx, ticker, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			i.logger.Warn("prices: fetch failed", "symbol", sym, "ticker", ticker, "err", err)
			continue
		}
		for j := range bars {
			bars[j].Symbol = i.Symbol(bars[j].Symbol)
			bars[j].Timestamp = bars[j].Timestamp.UTC().Round(time.Minute)
		}
		if err := i.st.RecordPrices(ctx, bars); err != nil {
			return total, fmt.Errorf("record prices for %s: %w", sym, err)
		}
		total += len(bars)
		i.logger.Info("prices: imported", "symbol", sym, "count", len(bars))
	}
	return total, nil
}
