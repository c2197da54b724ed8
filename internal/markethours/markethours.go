// Package markethours models the daily trading window and moves trade
// timestamps that fall outside it onto the next market open.
//
// The default window is 00:00-06:00 UTC, Monday to Friday, which is the ASX
// session expressed in UTC. Both ends of the window are inclusive.
package markethours

import (
	"errors"
	"fmt"
	"time"

	"github.com/tradesim/trade-simulator/internal/model"
)

const day = 24 * time.Hour

var ErrInvalidWindow = errors.New("markethours: invalid trading window")

// Window is a daily UTC trading session on a fixed set of weekdays.
type Window struct {
	Open  time.Duration // offset from midnight UTC
	Close time.Duration // offset from midnight UTC, inclusive
	Days  []time.Weekday
}

// DefaultWindow returns 00:00-06:00 UTC, Monday to Friday.
func DefaultWindow() Window {
	return Window{
		Open:  0,
		Close: 6 * time.Hour,
		Days:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

// Validate checks the window is a non-empty same-day session on at least one weekday.
func (w Window) Validate() error {
	if w.Open < 0 || w.Close >= day || w.Open > w.Close {
		return fmt.Errorf("%w: open=%s close=%s", ErrInvalidWindow, w.Open, w.Close)
	}
	if w.Open%time.Minute != 0 || w.Close%time.Minute != 0 {
		return fmt.Errorf("%w: open and close must be whole minutes", ErrInvalidWindow)
	}
	if len(w.Days) == 0 {
		return fmt.Errorf("%w: no trading days", ErrInvalidWindow)
	}
	return nil
}

// IsTradingDay reports whether t falls on one of the window's weekdays.
func (w Window) IsTradingDay(t time.Time) bool {
	wd := t.UTC().Weekday()
	for _, d := range w.Days {
		if d == wd {
			return true
		}
	}
	return false
}

// Contains reports whether t is inside the trading window.
func (w Window) Contains(t time.Time) bool {
	t = t.UTC()
	if !w.IsTradingDay(t) {
		return false
	}
	tod := t.Sub(startOfDay(t))
	return tod >= w.Open && tod <= w.Close
}

// Normalize returns the bucketing timestamp for a trade. Trades whose exact
// time is inside the window keep their rounded timestamp; any other trade is
// moved to the next market open (00:00 of the next trading day by default).
func (w Window) Normalize(exact, rounded time.Time) time.Time {
	if w.Contains(exact) {
		return rounded
	}
	exact = exact.UTC()
	today := startOfDay(exact)
	if w.IsTradingDay(exact) && exact.Sub(today) < w.Open {
		return today.Add(w.Open)
	}
	return w.nextTradingDay(today).Add(w.Open)
}

// NormalizeTrades returns copies of trades with Timestamp moved into the
// trading window. TimestampExact is never altered.
func (w Window) NormalizeTrades(trades []model.TradeEvent) []model.TradeEvent {
	out := make([]model.TradeEvent, len(trades))
	for i, t := range trades {
		t.Timestamp = w.Normalize(t.TimestampExact, t.Timestamp)
		out[i] = t
	}
	return out
}

// Minutes returns every window minute in [from, to] in ascending order.
func (w Window) Minutes(from, to time.Time) []time.Time {
	from, to = from.UTC(), to.UTC()
	if to.Before(from) {
		return nil
	}
	perDay := int((w.Close-w.Open)/time.Minute) + 1
	days := int(to.Sub(startOfDay(from))/day) + 1
	out := make([]time.Time, 0, perDay*days)

	for d := startOfDay(from); !d.After(to); d = d.Add(day) {
		if !w.IsTradingDay(d) {
			continue
		}
		for m := w.Open; m <= w.Close; m += time.Minute {
			t := d.Add(m)
			if t.Before(from) {
				continue
			}
			if t.After(to) {
				break
			}
			out = append(out, t)
		}
	}
	return out
}

func (w Window) nextTradingDay(d time.Time) time.Time {
	for i := 1; i <= 7; i++ {
		next := d.Add(time.Duration(i) * day)
		if w.IsTradingDay(next) {
			return next
		}
	}
	return d.Add(day)
}

// ParseClock parses "HH:MM" into an offset from midnight. "24:00" is the
// last minute of the day, 23:59, since closes are inclusive.
func ParseClock(s string) (time.Duration, error) {
	if s == "24:00" {
		return day - time.Minute, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidWindow, s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// StartOfDay floors t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	return startOfDay(t)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
