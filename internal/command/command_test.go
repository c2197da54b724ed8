package command

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesim/trade-simulator/internal/model"
)

func msg(id, content string, ts time.Time) model.ChatCommand {
	return model.ChatCommand{
		ID:        id,
		Timestamp: ts,
		Author:    model.Author{ID: "42", Username: "bob"},
		Content:   content,
	}
}

var wed = time.Date(2023, 6, 21, 1, 0, 0, 0, time.UTC)

func TestParse_Buy(t *testing.T) {
	ev, err := Parse(msg("1", "Buy 100 ABC", wed), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Action != model.ActionBuy {
		t.Errorf("expected action=buy, got %s", ev.Action)
	}
	if ev.Symbol != "abc" {
		t.Errorf("expected symbol=abc, got %s", ev.Symbol)
	}
	if ev.Volume != 100 || ev.StockVolume != 100 || ev.CashVolume != 0 {
		t.Errorf("unexpected volumes: %+v", ev)
	}
	if !ev.Brokerage.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected brokerage=10, got %s", ev.Brokerage)
	}
	if ev.AuthorName != "bob" || ev.AuthorID != "42" {
		t.Errorf("author not carried over: %+v", ev)
	}
}

func TestParse_SignAndClassification(t *testing.T) {
	tests := []struct {
		content   string
		volume    int64
		stock     int64
		cash      int64
		brokerage int64
	}{
		{"buy 5 abc", 5, 5, 0, 10},
		{"sell 5 abc", -5, -5, 0, 10},
		{"add 1000 $aud", 1000, 0, 1000, 0},
		{"subtract 250 $aud", -250, 0, -250, 0},
		{"sell 7.0 xyz", -7, -7, 0, 10},
	}
	for _, tc := range tests {
		ev, err := Parse(msg("1", tc.content, wed), DefaultOptions())
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.content, err)
		}
		if ev.Volume != tc.volume || ev.StockVolume != tc.stock || ev.CashVolume != tc.cash {
			t.Errorf("%q: got volume=%d stock=%d cash=%d", tc.content, ev.Volume, ev.StockVolume, ev.CashVolume)
		}
		if !ev.Brokerage.Equal(decimal.NewFromInt(tc.brokerage)) {
			t.Errorf("%q: expected brokerage=%d, got %s", tc.content, tc.brokerage, ev.Brokerage)
		}
		if !ev.Valid() {
			t.Errorf("%q: conservation invariant broken: %+v", tc.content, ev)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []string{
		"buy 100",
		"buy 100 abc now",
		"sell lots abc",
		"buy 1.5 abc",
		"buy -3 abc",
		"buyer is here",
	}
	for _, content := range tests {
		_, err := Parse(msg("9", content, wed), DefaultOptions())
		if err == nil {
			t.Errorf("expected error for %q", content)
			continue
		}
		if !errors.Is(err, ErrMalformedCommand) {
			t.Errorf("%q: expected ErrMalformedCommand, got %v", content, err)
		}
	}
}

func TestParse_TimestampRounding(t *testing.T) {
	ts := time.Date(2023, 6, 21, 1, 2, 40, 0, time.FixedZone("AWST", 8*3600))
	ev, err := Parse(msg("1", "buy 1 abc", ts), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.TimestampExact.Location() != time.UTC {
		t.Errorf("exact timestamp should be UTC, got %v", ev.TimestampExact.Location())
	}
	if !ev.TimestampExact.Equal(ts) {
		t.Errorf("exact timestamp changed: %v", ev.TimestampExact)
	}
	want := time.Date(2023, 6, 20, 17, 3, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("expected rounded %v, got %v", want, ev.Timestamp)
	}
}

func TestIsTradeCommand(t *testing.T) {
	yes := []string{"buy 1 abc", "SELL 1 abc", "  add 5 $aud", "Subtract 5 $aud"}
	no := []string{"", "hello", "what should I buy?", "gm"}
	for _, c := range yes {
		if !IsTradeCommand(c) {
			t.Errorf("expected %q to be a trade command", c)
		}
	}
	for _, c := range no {
		if IsTradeCommand(c) {
			t.Errorf("expected %q to be chat noise", c)
		}
	}
}

func TestParseBatch_SkipsNoiseAndCollectsMalformed(t *testing.T) {
	cmds := []model.ChatCommand{
		msg("1", "buy 100 abc", wed),
		msg("2", "good morning", wed),
		msg("3", "sell 40", wed),
		msg("4", "add 1000 $aud", wed),
	}
	events, bad := ParseBatch(cmds, DefaultOptions())
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if len(bad) != 1 || bad[0].ID != "3" {
		t.Fatalf("expected message 3 to be malformed, got %+v", bad)
	}
}

func TestParseAction_AllActions(t *testing.T) {
	for _, a := range model.Actions {
		got, err := ParseAction(string(a))
		if err != nil {
			t.Errorf("unexpected error for %s: %v", a, err)
		}
		if got != a {
			t.Errorf("expected %s, got %s", a, got)
		}
	}
	if _, err := ParseAction("hold"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}
