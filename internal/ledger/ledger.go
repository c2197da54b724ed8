// Package ledger joins trades with the price spine and derives running
// balances, valuations and cash flow per author+symbol+minute.
//
// Everything here is a pure fold over sorted input: balances are re-derived
// from the full trade set on every call and never updated in place.
package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesim/trade-simulator/internal/model"
	"github.com/tradesim/trade-simulator/internal/spine"
)

// DefaultCashSymbol is the pseudo-symbol used for cash deposits and withdrawals.
const DefaultCashSymbol = "$aud"

type groupKey struct {
	author string
	symbol string
}

type rowKey struct {
	groupKey
	ts int64
}

func keyOf(author, symbol string) groupKey {
	return groupKey{author: author, symbol: strings.ToLower(symbol)}
}

// SortTrades orders trades by bucketed timestamp, then exact timestamp, then id.
func SortTrades(trades []model.TradeEvent) {
	sort.SliceStable(trades, func(i, j int) bool {
		a, b := trades[i], trades[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if !a.TimestampExact.Equal(b.TimestampExact) {
			return a.TimestampExact.Before(b.TimestampExact)
		}
		return a.ID < b.ID
	})
}

// AssignBalances returns a sorted copy of trades with Balance set to the
// running signed volume for each author+symbol. The result does not depend
// on the order of the input.
func AssignBalances(trades []model.TradeEvent) []model.TradeEvent {
	out := append([]model.TradeEvent(nil), trades...)
	SortTrades(out)
	running := make(map[groupKey]int64)
	for i := range out {
		k := keyOf(out[i].AuthorName, out[i].Symbol)
		running[k] += out[i].Volume
		out[i].Balance = running[k]
	}
	return out
}

// ExcludeExisting drops trades whose id is already stored, and repeats of
// an id within the batch itself. The dropped ids are returned for counting.
func ExcludeExisting(trades []model.TradeEvent, existing map[string]struct{}) (fresh []model.TradeEvent, duplicates []string) {
	seen := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if _, ok := existing[t.ID]; ok {
			duplicates = append(duplicates, t.ID)
			continue
		}
		if _, ok := seen[t.ID]; ok {
			duplicates = append(duplicates, t.ID)
			continue
		}
		seen[t.ID] = struct{}{}
		fresh = append(fresh, t)
	}
	return fresh, duplicates
}

// bucket aggregates the trades that share one author+symbol+minute.
type bucket struct {
	trades []model.TradeEvent
}

type position struct {
	balance   int64
	avgPrice  decimal.Decimal
	lastPrice decimal.Decimal
	priced    bool
}

// Build outer-joins the spine with trades on author, symbol and minute and
// returns one LedgerRow per key, ordered by timestamp, symbol, author.
// Minutes without trades carry the previous balance forward. The cash
// symbol is compared case-insensitively and is never valued as stock.
func Build(trades []model.TradeEvent, rows []model.PriceSpineRow, cashSymbol string) []model.LedgerRow {
	buckets := make(map[rowKey]*bucket)
	for _, t := range AssignBalances(trades) {
		k := rowKey{keyOf(t.AuthorName, t.Symbol), t.Timestamp.Unix()}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{}
			buckets[k] = b
		}
		b.trades = append(b.trades, t)
	}

	joined := withOrphans(rows, buckets)

	state := make(map[groupKey]*position)
	out := make([]model.LedgerRow, 0, len(joined))
	for _, r := range joined {
		g := keyOf(r.row.AuthorName, r.row.Symbol)
		pos, ok := state[g]
		if !ok {
			pos = &position{}
			state[g] = pos
		}

		price := r.row.Price
		if r.orphan {
			price = spine.DefaultPrice
			if pos.priced {
				price = pos.lastPrice
			}
		}
		pos.lastPrice, pos.priced = price, true

		lr := model.LedgerRow{
			AuthorName: r.row.AuthorName,
			Symbol:     g.symbol,
			Timestamp:  r.row.Timestamp,
			Price:      price,
			Brokerage:  decimal.Zero,
		}

		if b := buckets[rowKey{g, r.row.Timestamp.Unix()}]; b != nil {
			for _, t := range b.trades {
				lr.Volume += t.Volume
				lr.StockVolume += t.StockVolume
				lr.CashVolume += t.CashVolume
				lr.Brokerage = lr.Brokerage.Add(t.Brokerage)
				pos.apply(t, price)
			}
		}

		isCash := model.SameSymbol(g.symbol, cashSymbol)
		lr.Balance = pos.balance
		lr.BalanceValue = decimal.NewFromInt(pos.balance).Mul(price)
		lr.StockBalanceValue = lr.BalanceValue
		lr.StockVolumeValue = decimal.NewFromInt(lr.StockVolume).Mul(price)
		if isCash {
			lr.StockBalanceValue = decimal.Zero
			lr.StockVolumeValue = decimal.Zero
		} else {
			lr.AverageBuyPrice = pos.avgPrice
		}
		lr.CashFlow = decimal.NewFromInt(lr.CashVolume).Sub(lr.StockVolumeValue).Sub(lr.Brokerage)

		out = append(out, lr)
	}
	return out
}

// apply moves the position to the trade's balance and updates the weighted
// average buy price. Sells leave the average unchanged; closing the position
// resets it.
func (p *position) apply(t model.TradeEvent, price decimal.Decimal) {
	prev := p.balance
	p.balance = t.Balance
	switch {
	case p.balance <= 0:
		p.avgPrice = decimal.Zero
	case t.StockVolume > 0 && prev <= 0:
		p.avgPrice = price
	case t.StockVolume > 0:
		cost := p.avgPrice.Mul(decimal.NewFromInt(prev)).Add(price.Mul(decimal.NewFromInt(t.StockVolume)))
		p.avgPrice = cost.Div(decimal.NewFromInt(p.balance))
	}
}

type joinedRow struct {
	row    model.PriceSpineRow
	orphan bool
}

// withOrphans appends a placeholder row for every trade bucket that has no
// spine row and restores timestamp, symbol, author order.
func withOrphans(rows []model.PriceSpineRow, buckets map[rowKey]*bucket) []joinedRow {
	out := make([]joinedRow, 0, len(rows))
	matched := make(map[rowKey]bool, len(buckets))
	for _, r := range rows {
		k := rowKey{keyOf(r.AuthorName, r.Symbol), r.Timestamp.Unix()}
		if buckets[k] != nil {
			matched[k] = true
		}
		out = append(out, joinedRow{row: r})
	}
	if len(matched) == len(buckets) {
		return out
	}

	for k, b := range buckets {
		if matched[k] {
			continue
		}
		out = append(out, joinedRow{
			row: model.PriceSpineRow{
				AuthorName: b.trades[0].AuthorName,
				Symbol:     k.symbol,
				Timestamp:  time.Unix(k.ts, 0).UTC(),
			},
			orphan: true,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].row, out[j].row
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.AuthorName < b.AuthorName
	})
	return out
}
