package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tradesim/trade-simulator/internal/model"
	"github.com/tradesim/trade-simulator/internal/standings"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	boardStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#10B981")).
			Padding(0, 1)

	gainStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	lossStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))

	rankCol  = lipgloss.NewStyle().Width(5)
	nameCol  = lipgloss.NewStyle().Width(20)
	moneyCol = lipgloss.NewStyle().Width(14).Align(lipgloss.Right)
	pctCol   = lipgloss.NewStyle().Width(10).Align(lipgloss.Right)
	posCol   = lipgloss.NewStyle().PaddingLeft(2)
)

// Table renders the leaderboard for a terminal.
func Table(ranked []model.Standing, currency string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(Title))
	b.WriteString("\n")

	if len(ranked) == 0 {
		b.WriteString(boardStyle.Render("No trades yet."))
		return b.String()
	}

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		rankCol.Render("#"),
		nameCol.Render("Trader"),
		moneyCol.Render("Cash"),
		moneyCol.Render("Total"),
		pctCol.Render("Return"),
	)
	lines := []string{headerStyle.Render(header)}

	for _, s := range ranked {
		ret := standings.PctChange(s.Total.Sub(s.Basis), s.Basis)
		retText := "n/a"
		style := gainStyle
		if ret.Valid {
			retText = fmt.Sprintf("%s%%", ret.Decimal.StringFixed(2))
			if ret.Decimal.IsNegative() {
				style = lossStyle
			}
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			rankCol.Render(fmt.Sprintf("%d", s.Rank)),
			nameCol.Render(s.DisplayName),
			moneyCol.Render(standings.FormatMoney(s.Cash, currency)),
			moneyCol.Render(standings.FormatMoney(s.Total, currency)),
			pctCol.Render(style.Render(retText)),
		))
		for _, p := range s.Positions {
			lines = append(lines, posCol.Render(fmt.Sprintf("%s %d @ %s (%s)",
				p.Symbol, p.Balance, p.Price.StringFixed(3), standings.FormatPct(p.ROI))))
		}
	}

	b.WriteString(boardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	return b.String()
}

// Terminal writes the leaderboard to W. Timestamps are shown in Location,
// or UTC when it is nil.
type Terminal struct {
	W        io.Writer
	Currency string
	Location *time.Location
	now      func() time.Time
}

// Report implements engine.Reporter.
func (t Terminal) Report(_ context.Context, ranked []model.Standing, _ []model.BalanceSnapshot) error {
	loc := t.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	_, err := fmt.Fprintf(t.W, "%s\nas of %s\n", Table(ranked, t.Currency), now().In(loc).Format("2006-01-02 15:04 MST"))
	return err
}
