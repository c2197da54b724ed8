// Package engine composes the pipeline stages: parse chat commands, move
// them into market hours, drop already-stored trades, then value every
// trader against the price spine.
package engine

import (
	"strings"
	"time"

	"github.com/tradesim/trade-simulator/internal/command"
	"github.com/tradesim/trade-simulator/internal/ledger"
	"github.com/tradesim/trade-simulator/internal/markethours"
	"github.com/tradesim/trade-simulator/internal/model"
	"github.com/tradesim/trade-simulator/internal/spine"
	"github.com/tradesim/trade-simulator/internal/standings"
)

// Options configures one pipeline run.
type Options struct {
	Command      command.Options
	Window       markethours.Window
	CashSymbol   string
	Currency     string
	DisplayNames map[string]string
}

// DefaultOptions returns brokerage 10, the 00:00-06:00 UTC weekday window and
// "$aud" cash displayed as AUD.
func DefaultOptions() Options {
	return Options{
		Command:    command.DefaultOptions(),
		Window:     markethours.DefaultWindow(),
		CashSymbol: ledger.DefaultCashSymbol,
		Currency:   "AUD",
	}
}

// Input is one snapshot of chat history, the stored trades and price ticks.
type Input struct {
	Commands []model.ChatCommand
	Stored   []model.TradeEvent
	Prices   []model.PricePoint
	Now      time.Time
}

// TradeBatch is the result of turning commands into trades.
type TradeBatch struct {
	New        []model.TradeEvent // not yet stored, balances assigned
	All        []model.TradeEvent // stored plus new, sorted, balances re-derived
	Malformed  []*command.MalformedCommandError
	Duplicates []string
}

// Valuation is everything derived from the full trade set and prices.
type Valuation struct {
	Ledger       []model.LedgerRow
	Snapshots    []model.BalanceSnapshot
	Standings    []model.Standing
	EmptySymbols []string
}

// Output is the result of Process.
type Output struct {
	TradeBatch
	Valuation
}

// Trades parses commands, normalizes their timestamps and removes trades
// whose id is already stored. Balances are recomputed over stored and new
// trades together.
func Trades(cmds []model.ChatCommand, stored []model.TradeEvent, opts Options) TradeBatch {
	parsed, malformed := command.ParseBatch(cmds, opts.Command)
	parsed = opts.Window.NormalizeTrades(parsed)

	existing := make(map[string]struct{}, len(stored))
	for _, t := range stored {
		existing[t.ID] = struct{}{}
	}
	fresh, dups := ledger.ExcludeExisting(parsed, existing)

	all := ledger.AssignBalances(append(append([]model.TradeEvent(nil), stored...), fresh...))

	isNew := make(map[string]bool, len(fresh))
	for _, t := range fresh {
		isNew[t.ID] = true
	}
	var out []model.TradeEvent
	for _, t := range all {
		if isNew[t.ID] {
			out = append(out, t)
		}
	}

	return TradeBatch{New: out, All: all, Malformed: malformed, Duplicates: dups}
}

// Value builds the spine, ledger, snapshots and standings for trades.
func Value(trades []model.TradeEvent, prices []model.PricePoint, now time.Time, opts Options) Valuation {
	sp := spine.Build(trades, prices, opts.Window, now)
	rows := ledger.Build(trades, sp.Rows, opts.CashSymbol)
	snaps := standings.Snapshots(rows)
	ranked := standings.Rank(rows, snaps, standings.Options{
		CashSymbol:   opts.CashSymbol,
		Currency:     opts.Currency,
		DisplayNames: opts.DisplayNames,
	})
	return Valuation{
		Ledger:       rows,
		Snapshots:    snaps,
		Standings:    ranked,
		EmptySymbols: sp.EmptySymbols,
	}
}

// Process runs the whole pipeline as a pure function of its input.
func Process(in Input, opts Options) Output {
	batch := Trades(in.Commands, in.Stored, opts)
	return Output{
		TradeBatch: batch,
		Valuation:  Value(batch.All, in.Prices, in.Now, opts),
	}
}

// Symbols returns the distinct lowercased symbols in trades, excluding cash.
func Symbols(trades []model.TradeEvent, cashSymbol string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range trades {
		s := strings.ToLower(t.Symbol)
		if seen[s] || model.SameSymbol(s, cashSymbol) {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Earliest returns the smallest bucketed timestamp in trades.
func Earliest(trades []model.TradeEvent) (time.Time, bool) {
	if len(trades) == 0 {
		return time.Time{}, false
	}
	first := trades[0].Timestamp
	for _, t := range trades[1:] {
		if t.Timestamp.Before(first) {
			first = t.Timestamp
		}
	}
	return first, true
}
