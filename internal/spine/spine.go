// Package spine builds the dense per-minute price timeline that every
// author+symbol pair is valued against.
package spine

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesim/trade-simulator/internal/markethours"
	"github.com/tradesim/trade-simulator/internal/model"
)

// DefaultPrice fills symbols that never had a tick, such as the cash symbol.
var DefaultPrice = decimal.NewFromInt(1)

// Result is the spine plus the symbols that had no ticks in range.
type Result struct {
	Rows         []model.PriceSpineRow
	EmptySymbols []string
}

type pair struct {
	author string
	symbol string
}

// Build crosses every traded author+symbol pair with every window minute from
// the first trade's day through max(now, last trade) and attaches a price to
// each row. Gaps are filled forward, then backward, then with DefaultPrice.
// Rows are ordered by timestamp, symbol, author.
func Build(trades []model.TradeEvent, prices []model.PricePoint, w markethours.Window, now time.Time) Result {
	if len(trades) == 0 {
		return Result{}
	}

	first, last := trades[0].Timestamp, trades[0].Timestamp
	seen := make(map[pair]bool)
	var pairs []pair
	for _, t := range trades {
		if t.Timestamp.Before(first) {
			first = t.Timestamp
		}
		if t.Timestamp.After(last) {
			last = t.Timestamp
		}
		p := pair{author: t.AuthorName, symbol: strings.ToLower(t.Symbol)}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].symbol != pairs[j].symbol {
			return pairs[i].symbol < pairs[j].symbol
		}
		return pairs[i].author < pairs[j].author
	})

	end := now.UTC()
	if last.After(end) {
		end = last
	}
	timeline := w.Minutes(markethours.StartOfDay(first), end)

	ticks := indexTicks(prices)
	series := make(map[string][]decimal.Decimal)
	var empty []string
	for _, p := range pairs {
		if _, ok := series[p.symbol]; ok {
			continue
		}
		filled, found := fill(timeline, ticks[p.symbol])
		series[p.symbol] = filled
		if !found {
			empty = append(empty, p.symbol)
		}
	}

	rows := make([]model.PriceSpineRow, 0, len(timeline)*len(pairs))
	for i, ts := range timeline {
		for _, p := range pairs {
			rows = append(rows, model.PriceSpineRow{
				AuthorName: p.author,
				Symbol:     p.symbol,
				Timestamp:  ts,
				Price:      series[p.symbol][i],
			})
		}
	}

	sort.Strings(empty)
	return Result{Rows: rows, EmptySymbols: empty}
}

// indexTicks groups ticks by lowercased symbol and minute. A later tick for
// the same minute replaces an earlier one.
func indexTicks(prices []model.PricePoint) map[string]map[int64]decimal.Decimal {
	out := make(map[string]map[int64]decimal.Decimal)
	for _, p := range prices {
		sym := strings.ToLower(p.Symbol)
		m, ok := out[sym]
		if !ok {
			m = make(map[int64]decimal.Decimal)
			out[sym] = m
		}
		m[p.Timestamp.UTC().Round(time.Minute).Unix()] = p.Price
	}
	return out
}

// fill joins the timeline against ticks and runs the three gap-filling
// passes. The second return value is false when no tick matched.
func fill(timeline []time.Time, ticks map[int64]decimal.Decimal) ([]decimal.Decimal, bool) {
	out := make([]decimal.Decimal, len(timeline))
	known := make([]bool, len(timeline))
	found := false
	for i, ts := range timeline {
		if p, ok := ticks[ts.Unix()]; ok {
			out[i], known[i] = p, true
			found = true
		}
	}

	// forward
	for i := 1; i < len(out); i++ {
		if !known[i] && known[i-1] {
			out[i], known[i] = out[i-1], true
		}
	}
	// backward
	for i := len(out) - 2; i >= 0; i-- {
		if !known[i] && known[i+1] {
			out[i], known[i] = out[i+1], true
		}
	}
	// default
	for i := range out {
		if !known[i] {
			out[i] = DefaultPrice
		}
	}
	return out, found
}
