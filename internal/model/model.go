// Package model defines the core domain types shared across the trade simulator.
// Prices and money use shopspring/decimal; share and cash volumes are whole units.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Author identifies the chat user who sent a command.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ChatCommand is one raw chat message as delivered by the chat collaborator.
// Commands are immutable and append-only.
type ChatCommand struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
}

// Action is the closed set of trade verbs a chat command can carry.
type Action string

const (
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
	ActionAdd      Action = "add"
	ActionSubtract Action = "subtract"
)

// Actions lists every valid action in prefix-match order.
var Actions = []Action{ActionBuy, ActionSell, ActionAdd, ActionSubtract}

// IsStock reports whether the action moves shares rather than cash.
func (a Action) IsStock() bool {
	return a == ActionBuy || a == ActionSell
}

// Sign is -1 for actions that reduce a balance and +1 otherwise.
func (a Action) Sign() int64 {
	if a == ActionSell || a == ActionSubtract {
		return -1
	}
	return 1
}

// TradeEvent is a parsed trade command. Volume is signed:
// negative for sell/subtract. Exactly one of StockVolume and CashVolume
// carries the volume, and Volume == StockVolume + CashVolume.
type TradeEvent struct {
	ID             string          `json:"id" db:"id"`
	AuthorID       string          `json:"author_id" db:"author_id"`
	AuthorName     string          `json:"author_name" db:"author_name"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Action         Action          `json:"action" db:"action"`
	Volume         int64           `json:"volume" db:"volume"`
	StockVolume    int64           `json:"stock_volume" db:"stock_volume"`
	CashVolume     int64           `json:"cash_volume" db:"cash_volume"`
	Brokerage      decimal.Decimal `json:"brokerage" db:"brokerage"`
	TimestampExact time.Time       `json:"timestamp_exact" db:"timestamp_exact"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"` // minute-rounded, market-hour adjusted
	Balance        int64           `json:"balance" db:"balance"`     // running volume for author+symbol
}

// Valid reports whether the event satisfies the volume conservation invariant.
func (t TradeEvent) Valid() bool {
	if t.Volume != t.StockVolume+t.CashVolume {
		return false
	}
	return t.StockVolume == 0 || t.CashVolume == 0
}

// PricePoint is one externally supplied price tick for a symbol.
type PricePoint struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Price     decimal.Decimal `json:"price" db:"price"`
}

// PriceSpineRow is one minute of the dense price timeline for an author+symbol.
type PriceSpineRow struct {
	AuthorName string          `json:"author_name"`
	Symbol     string          `json:"symbol"`
	Timestamp  time.Time       `json:"timestamp"`
	Price      decimal.Decimal `json:"price"`
}

// LedgerRow is a spine row joined with the trades that landed on its minute.
type LedgerRow struct {
	AuthorName        string          `json:"author_name"`
	Symbol            string          `json:"symbol"`
	Timestamp         time.Time       `json:"timestamp"`
	Price             decimal.Decimal `json:"price"`
	Volume            int64           `json:"volume"`
	StockVolume       int64           `json:"stock_volume"`
	CashVolume        int64           `json:"cash_volume"`
	Brokerage         decimal.Decimal `json:"brokerage"`
	Balance           int64           `json:"balance"`
	AverageBuyPrice   decimal.Decimal `json:"average_buy_price"`
	BalanceValue      decimal.Decimal `json:"balance_value"`
	StockBalanceValue decimal.Decimal `json:"stock_balance_value"`
	StockVolumeValue  decimal.Decimal `json:"stock_volume_value"`
	CashFlow          decimal.Decimal `json:"cash_flow"` // cash_volume - stock_volume_value - brokerage
}

// BalanceSnapshot is a trader's position summed across symbols at one minute.
// PctChange is null while the trader has no cash basis.
type BalanceSnapshot struct {
	AuthorName        string              `json:"author_name"`
	Timestamp         time.Time           `json:"timestamp"`
	CashVolume        decimal.Decimal     `json:"cash_volume"`
	CashFlow          decimal.Decimal     `json:"cash_flow"`
	StockBalanceValue decimal.Decimal     `json:"stock_balance_value"`
	StockVolumeValue  decimal.Decimal     `json:"stock_volume_value"`
	CashBalance       decimal.Decimal     `json:"cash_balance"`
	CashChanges       decimal.Decimal     `json:"cash_changes"`
	TotalBalance      decimal.Decimal     `json:"total_balance"`
	TotalChange       decimal.Decimal     `json:"total_change"`
	PctChange         decimal.NullDecimal `json:"pct_change"`
}

// Position is one held symbol in a trader's standing.
type Position struct {
	Symbol          string              `json:"symbol"`
	Balance         int64               `json:"balance"`
	Price           decimal.Decimal     `json:"price"`
	BalanceValue    decimal.Decimal     `json:"balance_value"`
	AverageBuyPrice decimal.Decimal     `json:"average_buy_price"`
	ROI             decimal.NullDecimal `json:"roi"` // fraction, null without a buy price
}

// Standing is a trader's row on the leaderboard.
type Standing struct {
	Rank        int             `json:"rank"`
	AuthorName  string          `json:"author_name"`
	DisplayName string          `json:"display_name"`
	Emoji       string          `json:"emoji"`
	Cash        decimal.Decimal `json:"cash"`
	Total       decimal.Decimal `json:"total"`
	Basis       decimal.Decimal `json:"basis"`
	Positions   []Position      `json:"positions"`
	Summary     string          `json:"summary"`
}

// SameSymbol compares symbols case-insensitively.
func SameSymbol(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Run records the outcome of one ingestion or report pass.
type Run struct {
	ID           string    `json:"id" db:"id"`
	Kind         string    `json:"kind" db:"kind"` // "ingest" or "report"
	StartedAt    time.Time `json:"started_at" db:"started_at"`
	FinishedAt   time.Time `json:"finished_at" db:"finished_at"`
	Commands     int       `json:"commands" db:"commands"`
	Parsed       int       `json:"parsed" db:"parsed"`
	Malformed    int       `json:"malformed" db:"malformed"`
	Duplicates   int       `json:"duplicates" db:"duplicates"`
	Appended     int       `json:"appended" db:"appended"`
	EmptySymbols []string  `json:"empty_symbols,omitempty" db:"empty_symbols"`
}
