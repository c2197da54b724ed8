package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradesim/trade-simulator/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Trade id lookups always
// hit the primary so deduplication never sees a stale set.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	prefix  string
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		prefix:  "tradesim",
	}
}

// Primary returns the wrapped store, bypassing the cache.
func (s *CachedStore) Primary() Store { return s.primary }

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) AppendTrades(ctx context.Context, trades []model.TradeEvent) (int, error) {
	n, err := s.primary.AppendTrades(ctx, trades)
	if err != nil {
		return n, err
	}
	if n > 0 {
		// Invalidate; next read will re-populate.
		s.rdb.Del(ctx, s.tradesKey())
	}
	return n, nil
}

func (s *CachedStore) RecordRun(ctx context.Context, run *model.Run) error {
	if err := s.primary.RecordRun(ctx, run); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.runsKey())
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListTrades(ctx context.Context) ([]model.TradeEvent, error) {
	data, err := s.rdb.Get(ctx, s.tradesKey()).Bytes()
	if err == nil {
		var trades []model.TradeEvent
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	// Cache miss.
	trades, err := s.primary.ListTrades(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, s.tradesKey(), data, s.ttl)
	}
	return trades, nil
}

func (s *CachedStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	key := s.runsKey()
	field := fmt.Sprint(limit)
	data, err := s.rdb.HGet(ctx, key, field).Bytes()
	if err == nil {
		var runs []model.Run
		if json.Unmarshal(data, &runs) == nil {
			return runs, nil
		}
	}

	runs, err := s.primary.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(runs); err == nil {
		s.rdb.HSet(ctx, key, field, data)
		s.rdb.Expire(ctx, key, s.ttl)
	}
	return runs, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ExistingTradeIDs(ctx context.Context) (map[string]struct{}, error) {
	return s.primary.ExistingTradeIDs(ctx)
}

func (s *CachedStore) RecordPrices(ctx context.Context, points []model.PricePoint) error {
	return s.primary.RecordPrices(ctx, points)
}

func (s *CachedStore) Prices(ctx context.Context, symbols []string, since time.Time) ([]model.PricePoint, error) {
	return s.primary.Prices(ctx, symbols, since)
}

// --- Cache helpers ---

func (s *CachedStore) tradesKey() string { return fmt.Sprintf("%s:trades", s.prefix) }
func (s *CachedStore) runsKey() string   { return fmt.Sprintf("%s:runs", s.prefix) }
