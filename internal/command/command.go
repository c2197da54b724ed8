// Package command turns raw chat messages into typed trade events.
//
// A trade command is three whitespace-separated tokens:
//
//	{action} {volume} {symbol}
//
// for example "buy 100 abc" or "add 1000 $aud". Messages that do not start
// with a trade action are ordinary chat and are dropped without error.
package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesim/trade-simulator/internal/model"
)

// DefaultBrokerage is the flat fee charged on every buy and sell.
const DefaultBrokerage = 10

var (
	ErrMalformedCommand = errors.New("command: malformed trade command")
	ErrUnknownAction    = errors.New("command: unknown action")
)

// MalformedCommandError describes a single rejected chat message.
type MalformedCommandError struct {
	ID      string
	Content string
	Reason  string
}

func (e *MalformedCommandError) Error() string {
	return fmt.Sprintf("%s: message %s %q: %s", ErrMalformedCommand, e.ID, e.Content, e.Reason)
}

func (e *MalformedCommandError) Unwrap() error { return ErrMalformedCommand }

// Options controls trade classification.
type Options struct {
	// Brokerage is charged on buy and sell commands only.
	Brokerage decimal.Decimal
}

// DefaultOptions returns the options used by the chat competition.
func DefaultOptions() Options {
	return Options{Brokerage: decimal.NewFromInt(DefaultBrokerage)}
}

// IsTradeCommand reports whether content starts with one of the trade actions.
func IsTradeCommand(content string) bool {
	c := strings.ToLower(strings.TrimSpace(content))
	for _, a := range model.Actions {
		if strings.HasPrefix(c, string(a)) {
			return true
		}
	}
	return false
}

// ParseAction maps a lowercased token onto the closed action set.
func ParseAction(token string) (model.Action, error) {
	switch a := model.Action(strings.ToLower(token)); a {
	case model.ActionBuy, model.ActionSell, model.ActionAdd, model.ActionSubtract:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, token)
	}
}

// Parse converts one chat message into a TradeEvent. The returned event has
// Timestamp rounded to the minute but not yet adjusted to market hours, and
// Balance unset.
func Parse(cmd model.ChatCommand, opts Options) (model.TradeEvent, error) {
	content := strings.ToLower(strings.TrimSpace(cmd.Content))
	fields := strings.Fields(content)
	if len(fields) != 3 {
		return model.TradeEvent{}, malformed(cmd, fmt.Sprintf("expected 3 tokens, got %d", len(fields)))
	}

	action, err := ParseAction(fields[0])
	if err != nil {
		return model.TradeEvent{}, malformed(cmd, err.Error())
	}

	magnitude, err := parseVolume(fields[1])
	if err != nil {
		return model.TradeEvent{}, malformed(cmd, err.Error())
	}

	volume := magnitude * action.Sign()
	ev := model.TradeEvent{
		ID:         cmd.ID,
		AuthorID:   cmd.Author.ID,
		AuthorName: cmd.Author.Username,
		Symbol:     fields[2],
		Action:     action,
		Volume:     volume,
		Brokerage:  decimal.Zero,
	}
	if action.IsStock() {
		ev.StockVolume = volume
		ev.Brokerage = opts.Brokerage
	} else {
		ev.CashVolume = volume
	}

	exact := cmd.Timestamp.UTC()
	ev.TimestampExact = exact
	ev.Timestamp = exact.Round(time.Minute)

	return ev, nil
}

// ParseBatch filters and parses a batch of chat messages. Messages that are
// not trade commands are skipped; malformed trade commands are collected and
// do not stop the batch.
func ParseBatch(cmds []model.ChatCommand, opts Options) ([]model.TradeEvent, []*MalformedCommandError) {
	var (
		events    []model.TradeEvent
		malformed []*MalformedCommandError
	)
	for _, c := range cmds {
		if !IsTradeCommand(c.Content) {
			continue
		}
		ev, err := Parse(c, opts)
		if err != nil {
			var mce *MalformedCommandError
			if errors.As(err, &mce) {
				malformed = append(malformed, mce)
				continue
			}
			malformed = append(malformed, &MalformedCommandError{ID: c.ID, Content: c.Content, Reason: err.Error()})
			continue
		}
		events = append(events, ev)
	}
	return events, malformed
}

// parseVolume accepts whole, non-negative numbers. "100" and "100.0" are
// both 100; "1.5" and "-3" are rejected.
func parseVolume(token string) (int64, error) {
	v, err := decimal.NewFromString(token)
	if err != nil {
		return 0, fmt.Errorf("volume %q is not a number", token)
	}
	if v.IsNegative() {
		return 0, fmt.Errorf("volume %q must not be negative", token)
	}
	if !v.IsInteger() {
		return 0, fmt.Errorf("volume %q must be a whole number", token)
	}
	if v.GreaterThan(decimal.NewFromInt(1 << 53)) {
		return 0, fmt.Errorf("volume %q is too large", token)
	}
	return v.IntPart(), nil
}

func malformed(cmd model.ChatCommand, reason string) error {
	return &MalformedCommandError{ID: cmd.ID, Content: cmd.Content, Reason: reason}
}
