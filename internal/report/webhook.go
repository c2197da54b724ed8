// Package report renders standings for people: a Discord webhook embed and a
// terminal leaderboard.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/tradesim/trade-simulator/internal/model"
	"github.com/tradesim/trade-simulator/internal/standings"
)

const (
	Title       = "Simulated Trading Results"
	Color       = 0x03b2f8
	TrendWindow = 7 * 24 * time.Hour
)

// Discord rejects embeds with more than 25 fields.
const maxFields = 25

// Embed is the subset of a Discord embed the report uses.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Fields      []EmbedField `json:"fields"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type webhookPayload struct {
	Username string  `json:"username,omitempty"`
	Embeds   []Embed `json:"embeds"`
}

// Webhook posts standings to a Discord webhook URL.
type Webhook struct {
	http     *resty.Client
	url      string
	username string
	now      func() time.Time
}

// NewWebhook creates a webhook reporter.
func NewWebhook(url, username string) *Webhook {
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
	})
	return &Webhook{http: client, url: url, username: username, now: time.Now}
}

// Report implements engine.Reporter.
func (w *Webhook) Report(ctx context.Context, ranked []model.Standing, snapshots []model.BalanceSnapshot) error {
	return w.post(ctx, BuildEmbed(ranked, snapshots, w.now().UTC()))
}

func (w *Webhook) post(ctx context.Context, e Embed) error {
	payload := webhookPayload{Username: w.username, Embeds: []Embed{e}}
	resp, err := w.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("post webhook: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// BuildEmbed lays out one field per trader in rank order, headed by emoji
// and display name, with the trader's recent trend appended.
func BuildEmbed(ranked []model.Standing, snapshots []model.BalanceSnapshot, now time.Time) Embed {
	e := Embed{
		Title:     Title,
		Color:     Color,
		Timestamp: now.Format(time.RFC3339),
	}
	if len(ranked) == 0 {
		e.Description = "No trades yet."
		return e
	}

	trends := Trends(standings.Since(snapshots, now.Add(-TrendWindow)))
	names := make([]string, 0, len(ranked))
	for _, s := range ranked {
		names = append(names, s.DisplayName)
		if len(e.Fields) == maxFields-1 {
			continue
		}
		value := s.Summary
		if tr, ok := trends[s.AuthorName]; ok {
			value += "\n7d: " + signed(tr)
		}
		e.Fields = append(e.Fields, EmbedField{
			Name:  fmt.Sprintf("%s %s", s.Emoji, s.DisplayName),
			Value: value,
		})
	}
	e.Fields = append(e.Fields, EmbedField{Name: ":crown: Traders", Value: strings.Join(names, "\n")})
	return e
}

// Trends returns the change in total_change per author across snapshots.
func Trends(snapshots []model.BalanceSnapshot) map[string]decimal.Decimal {
	first := make(map[string]decimal.Decimal)
	last := make(map[string]decimal.Decimal)
	for _, s := range snapshots {
		if _, ok := first[s.AuthorName]; !ok {
			first[s.AuthorName] = s.TotalChange
		}
		last[s.AuthorName] = s.TotalChange
	}
	out := make(map[string]decimal.Decimal, len(last))
	for a, l := range last {
		out[a] = l.Sub(first[a])
	}
	return out
}

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-" + d.Abs().StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}
