// Package standings folds ledger rows into per-trader balance snapshots and
// the ranked leaderboard.
package standings

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/tradesim/trade-simulator/internal/model"
)

const (
	EmojiFirst  = ":first_place:"
	EmojiSecond = ":second_place:"
	EmojiThird  = ":third_place:"
	EmojiUp     = ":chart_with_upwards_trend:"
	EmojiDown   = ":chart_with_downwards_trend:"
)

var hundred = decimal.NewFromInt(100)

// Options controls how standings are labelled and formatted.
type Options struct {
	CashSymbol   string
	Currency     string            // ISO code used for display, e.g. "AUD"
	DisplayNames map[string]string // username -> guild nickname
}

// Snapshots groups ledger rows by author and minute and derives the running
// cash balance, investment basis and total return. Output is ordered by
// timestamp, then author.
func Snapshots(rows []model.LedgerRow) []model.BalanceSnapshot {
	type key struct {
		author string
		ts     int64
	}
	index := make(map[key]int)
	var out []model.BalanceSnapshot
	for _, r := range rows {
		k := key{r.AuthorName, r.Timestamp.Unix()}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, model.BalanceSnapshot{
				AuthorName:        r.AuthorName,
				Timestamp:         r.Timestamp,
				CashVolume:        decimal.Zero,
				CashFlow:          decimal.Zero,
				StockBalanceValue: decimal.Zero,
				StockVolumeValue:  decimal.Zero,
			})
		}
		s := &out[i]
		s.CashVolume = s.CashVolume.Add(decimal.NewFromInt(r.CashVolume))
		s.CashFlow = s.CashFlow.Add(r.CashFlow)
		s.StockBalanceValue = s.StockBalanceValue.Add(r.StockBalanceValue)
		s.StockVolumeValue = s.StockVolumeValue.Add(r.StockVolumeValue)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].AuthorName < out[j].AuthorName
	})

	type running struct{ cash, basis decimal.Decimal }
	totals := make(map[string]*running)
	for i := range out {
		s := &out[i]
		acc, ok := totals[s.AuthorName]
		if !ok {
			acc = &running{cash: decimal.Zero, basis: decimal.Zero}
			totals[s.AuthorName] = acc
		}
		acc.cash = acc.cash.Add(s.CashFlow)
		acc.basis = acc.basis.Add(s.CashVolume)

		s.CashBalance = acc.cash
		s.CashChanges = acc.basis
		s.TotalBalance = s.CashBalance.Add(s.StockBalanceValue)
		s.TotalChange = s.TotalBalance.Sub(s.CashChanges)
		s.PctChange = PctChange(s.TotalChange, s.CashChanges)
	}
	return out
}

// PctChange returns change/basis as a percentage, or an invalid NullDecimal
// when there is no basis yet.
func PctChange(change, basis decimal.Decimal) decimal.NullDecimal {
	if basis.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(change.Div(basis).Mul(hundred))
}

// Since keeps snapshots at or after t.
func Since(snapshots []model.BalanceSnapshot, t time.Time) []model.BalanceSnapshot {
	out := make([]model.BalanceSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if !s.Timestamp.Before(t) {
			out = append(out, s)
		}
	}
	return out
}

// Latest returns the last snapshot for each author.
func Latest(snapshots []model.BalanceSnapshot) map[string]model.BalanceSnapshot {
	out := make(map[string]model.BalanceSnapshot)
	for _, s := range snapshots {
		if prev, ok := out[s.AuthorName]; !ok || !s.Timestamp.Before(prev.Timestamp) {
			out[s.AuthorName] = s
		}
	}
	return out
}

// Rank builds one Standing per trader from the latest ledger row of each
// author+symbol and the latest snapshot of each author, sorted by total
// descending.
func Rank(rows []model.LedgerRow, snapshots []model.BalanceSnapshot, opts Options) []model.Standing {
	type key struct{ author, symbol string }
	latest := make(map[key]model.LedgerRow)
	for _, r := range rows {
		k := key{r.AuthorName, strings.ToLower(r.Symbol)}
		if prev, ok := latest[k]; !ok || !r.Timestamp.Before(prev.Timestamp) {
			latest[k] = r
		}
	}

	byAuthor := make(map[string][]model.Position)
	authors := make(map[string]bool)
	for k, r := range latest {
		authors[k.author] = true
		if r.Balance <= 0 || model.SameSymbol(k.symbol, opts.CashSymbol) {
			continue
		}
		byAuthor[k.author] = append(byAuthor[k.author], model.Position{
			Symbol:          k.symbol,
			Balance:         r.Balance,
			Price:           r.Price,
			BalanceValue:    r.BalanceValue,
			AverageBuyPrice: r.AverageBuyPrice,
			ROI:             ROI(r.BalanceValue, r.Balance, r.AverageBuyPrice),
		})
	}

	snaps := Latest(snapshots)
	out := make([]model.Standing, 0, len(authors))
	for author := range authors {
		positions := byAuthor[author]
		sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

		s := model.Standing{
			AuthorName:  author,
			DisplayName: displayName(author, opts.DisplayNames),
			Cash:        decimal.Zero,
			Basis:       decimal.Zero,
			Positions:   positions,
		}
		if snap, ok := snaps[author]; ok {
			s.Cash = snap.CashBalance
			s.Basis = snap.CashChanges
		}
		s.Total = s.Cash
		for _, p := range positions {
			s.Total = s.Total.Add(p.BalanceValue)
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].AuthorName < out[j].AuthorName
	})
	for i := range out {
		out[i].Rank = i + 1
		out[i].Emoji = emoji(out[i])
		out[i].Summary = Summary(out[i], opts.Currency)
	}
	return out
}

// ROI is the fractional return of a position against its average buy price.
// It is null when the position has no cost basis.
func ROI(value decimal.Decimal, balance int64, avgPrice decimal.Decimal) decimal.NullDecimal {
	cost := avgPrice.Mul(decimal.NewFromInt(balance))
	if cost.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(value.Sub(cost).Div(cost))
}

func emoji(s model.Standing) string {
	switch s.Rank {
	case 1:
		return EmojiFirst
	case 2:
		return EmojiSecond
	case 3:
		return EmojiThird
	}
	if s.Total.LessThan(s.Basis) {
		return EmojiDown
	}
	return EmojiUp
}

func displayName(author string, names map[string]string) string {
	if n, ok := names[author]; ok && n != "" {
		return n
	}
	return author
}

// Summary renders the embed lines for one standing:
//
//	Cash: **$860.00**
//	abc: 60 (**$120.00**) (+0.00%)
//	**__Total: $980.00__**
func Summary(s model.Standing, currency string) string {
	lines := []string{fmt.Sprintf("Cash: **%s**", FormatMoney(s.Cash, currency))}
	for _, p := range s.Positions {
		lines = append(lines, fmt.Sprintf("%s: %d (**%s**) (%s)",
			p.Symbol, p.Balance, FormatMoney(p.BalanceValue, currency), FormatPct(p.ROI)))
	}
	lines = append(lines, fmt.Sprintf("**__Total: %s__**", FormatMoney(s.Total, currency)))
	return strings.Join(lines, "\n")
}

// FormatMoney displays an amount in the currency's minor units, rounded.
// Unknown currency codes fall back to two decimal places.
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2)
	}
	factor, _ := decimal.NewFromInt(10).PowInt32(int32(cur.Fraction))
	return money.New(amount.Mul(factor).Round(0).IntPart(), cur.Code).Display()
}

// FormatPct renders a fractional return as a signed percentage, "n/a" when null.
func FormatPct(roi decimal.NullDecimal) string {
	if !roi.Valid {
		return "n/a"
	}
	sign := "+"
	if roi.Decimal.IsNegative() {
		sign = "-"
	}
	return sign + roi.Decimal.Abs().Mul(hundred).StringFixed(2) + "%"
}
