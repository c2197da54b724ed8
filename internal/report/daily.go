package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesim/trade-simulator/internal/model"
)

const (
	DailyTitle = "Daily Report"
	// DailyTop is the number of gainers and losers listed.
	DailyTop = 10
	// DailyLookback is how much price history the daily report reads.
	DailyLookback = 4 * 24 * time.Hour
)

// MinDailyPrice drops penny stocks from the daily report.
var MinDailyPrice = decimal.RequireFromString("0.5")

// PriceChange is a symbol's move between the closes of two trading days.
type PriceChange struct {
	Symbol string
	Start  decimal.Decimal
	End    decimal.Decimal
	Abs    decimal.Decimal
	Pct    decimal.Decimal // fraction of Start
}

// DailyChanges compares each symbol's close on the last two UTC dates that
// have any ticks. A close is the last tick of the day above MinDailyPrice.
// Symbols missing either close are skipped. The result is sorted by Pct
// descending, then symbol.
func DailyChanges(points []model.PricePoint) []PriceChange {
	type key struct {
		symbol string
		date   time.Time
	}
	closes := make(map[key]model.PricePoint)
	dates := make(map[time.Time]bool)
	for _, p := range points {
		if !p.Price.GreaterThan(MinDailyPrice) {
			continue
		}
		ts := p.Timestamp.UTC()
		k := key{strings.ToLower(p.Symbol), time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)}
		dates[k.date] = true
		if prev, ok := closes[k]; !ok || !ts.Before(prev.Timestamp) {
			closes[k] = p
		}
	}
	if len(dates) < 2 {
		return nil
	}

	ordered := make([]time.Time, 0, len(dates))
	for d := range dates {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].After(ordered[j]) })
	end, start := ordered[0], ordered[1]

	var out []PriceChange
	for k, last := range closes {
		if !k.date.Equal(end) {
			continue
		}
		first, ok := closes[key{k.symbol, start}]
		if !ok {
			continue
		}
		abs := last.Price.Sub(first.Price)
		out = append(out, PriceChange{
			Symbol: k.symbol,
			Start:  first.Price,
			End:    last.Price,
			Abs:    abs,
			Pct:    abs.Div(first.Price),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Pct.Equal(out[j].Pct) {
			return out[i].Pct.GreaterThan(out[j].Pct)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// BuildDailyEmbed lists the top gainers and, worst first, the top losers.
func BuildDailyEmbed(changes []PriceChange, now time.Time) Embed {
	e := Embed{
		Title:       DailyTitle,
		Description: fmt.Sprintf("Top-%d performing stocks today!", DailyTop),
		Color:       Color,
		Timestamp:   now.Format(time.RFC3339),
	}
	if len(changes) == 0 {
		e.Description = "No prices for the last two trading days."
		return e
	}
	gainers, losers := TopMovers(changes, DailyTop)
	e.Fields = []EmbedField{
		{Name: ":crown: Top Gainers", Value: moverLines(gainers)},
		{Name: ":thumbsdown: Top Losers", Value: moverLines(losers)},
	}
	return e
}

// TopMovers returns the first n changes and the last n in reverse order.
// changes must already be sorted by DailyChanges.
func TopMovers(changes []PriceChange, n int) (gainers, losers []PriceChange) {
	gainers = changes[:min(n, len(changes))]
	for i := len(changes) - 1; i >= 0 && len(losers) < n; i-- {
		losers = append(losers, changes[i])
	}
	return gainers, losers
}

// DailyText renders the daily movers for a terminal.
func DailyText(changes []PriceChange) string {
	if len(changes) == 0 {
		return "No prices for the last two trading days."
	}
	gainers, losers := TopMovers(changes, DailyTop)
	return fmt.Sprintf("%s\n%s\n\n%s\n%s",
		headerStyle.Render("Top Gainers"), moverLines(gainers),
		headerStyle.Render("Top Losers"), moverLines(losers))
}

// moverLines renders "abc     +5.0%     +$0.100" per change.
func moverLines(changes []PriceChange) string {
	lines := make([]string, 0, len(changes))
	for _, c := range changes {
		pct := c.Pct.Abs().Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
		lines = append(lines, fmt.Sprintf("%-7s %s%-9s %s$%s",
			c.Symbol, sign(c.Pct), pct, sign(c.Abs), c.Abs.Abs().StringFixed(3)))
	}
	return strings.Join(lines, "\n")
}

func sign(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-"
	}
	return "+"
}

// DailyReport posts the daily movers embed.
func (w *Webhook) DailyReport(ctx context.Context, changes []PriceChange) error {
	return w.post(ctx, BuildDailyEmbed(changes, w.now().UTC()))
}
