package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tradesim/trade-simulator/internal/model"
)

type priceKey struct {
	symbol string
	ts     int64
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	trades []model.TradeEvent
	ids    map[string]struct{}
	prices map[priceKey]model.PricePoint
	runs   []model.Run
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:    make(map[string]struct{}),
		prices: make(map[priceKey]model.PricePoint),
	}
}

func (s *MemoryStore) ExistingTradeIDs(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{}, len(s.ids))
	for id := range s.ids {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *MemoryStore) AppendTrades(_ context.Context, trades []model.TradeEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range trades {
		if _, ok := s.ids[t.ID]; ok {
			continue
		}
		s.ids[t.ID] = struct{}{}
		s.trades = append(s.trades, t)
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListTrades(_ context.Context) ([]model.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]model.TradeEvent(nil), s.trades...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) RecordPrices(_ context.Context, points []model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		p.Symbol = strings.ToLower(p.Symbol)
		p.Timestamp = p.Timestamp.UTC()
		s.prices[priceKey{p.Symbol, p.Timestamp.UnixNano()}] = p
	}
	return nil
}

func (s *MemoryStore) Prices(_ context.Context, symbols []string, since time.Time) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		want[strings.ToLower(sym)] = true
	}

	var out []model.PricePoint
	for k, p := range s.prices {
		if want[k.symbol] && !p.Timestamp.Before(since) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (s *MemoryStore) RecordRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	r := *run
	r.EmptySymbols = append([]string(nil), run.EmptySymbols...)
	s.runs = append(s.runs, r)
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Run, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.runs[i])
	}
	return out, nil
}
