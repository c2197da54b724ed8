package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tradesim/trade-simulator/internal/model"
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)

func trade(id string, ts time.Time) model.TradeEvent {
	return model.TradeEvent{
		ID: id, AuthorID: "1", AuthorName: "bob", Symbol: "abc", Action: model.ActionBuy,
		Volume: 10, StockVolume: 10, Brokerage: decimal.NewFromInt(10),
		TimestampExact: ts, Timestamp: ts,
	}
}

// exerciseStore runs the shared contract against any Store implementation.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2023, 6, 21, 1, 0, 0, 0, time.UTC)
	idA, idB := uuid.NewString(), uuid.NewString()

	n, err := s.AppendTrades(ctx, []model.TradeEvent{trade(idB, base.Add(time.Minute)), trade(idA, base)})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 appended, got %d", n)
	}

	n, err = s.AppendTrades(ctx, []model.TradeEvent{trade(idA, base)})
	if err != nil {
		t.Fatalf("re-append: %v", err)
	}
	if n != 0 {
		t.Errorf("duplicate id was appended again")
	}

	ids, err := s.ExistingTradeIDs(ctx)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if _, ok := ids[idA]; !ok {
		t.Errorf("missing id %s", idA)
	}

	trades, err := s.ListTrades(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []model.TradeEvent
	for _, tr := range trades {
		if tr.ID == idA || tr.ID == idB {
			got = append(got, tr)
		}
	}
	if len(got) != 2 || got[0].ID != idA {
		t.Fatalf("expected trades ordered by timestamp, got %+v", got)
	}
	if !got[0].Brokerage.Equal(decimal.NewFromInt(10)) || got[0].Action != model.ActionBuy {
		t.Errorf("trade did not round-trip: %+v", got[0])
	}

	sym := "t" + idA[:8]
	err = s.RecordPrices(ctx, []model.PricePoint{
		{Symbol: sym, Timestamp: base, Price: decimal.RequireFromString("1.25")},
		{Symbol: sym, Timestamp: base.Add(time.Minute), Price: decimal.RequireFromString("1.30")},
		{Symbol: sym, Timestamp: base.Add(time.Minute), Price: decimal.RequireFromString("1.35")},
	})
	if err != nil {
		t.Fatalf("record prices: %v", err)
	}
	prices, err := s.Prices(ctx, []string{sym}, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if len(prices) != 1 || !prices[0].Price.Equal(decimal.RequireFromString("1.35")) {
		t.Errorf("expected latest upserted tick after since, got %+v", prices)
	}

	run := &model.Run{ID: idA, Kind: "ingest", StartedAt: base, FinishedAt: base.Add(time.Second), Parsed: 2, Appended: 2}
	if err := s.RecordRun(ctx, run); err != nil {
		t.Fatalf("record run: %v", err)
	}
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != idA || runs[0].Appended != 2 {
		t.Errorf("unexpected runs %+v", runs)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_PricesCaseInsensitive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ts := time.Date(2023, 6, 21, 1, 0, 0, 0, time.UTC)
	_ = s.RecordPrices(ctx, []model.PricePoint{{Symbol: "ABC", Timestamp: ts, Price: decimal.NewFromInt(2)}})

	got, _ := s.Prices(ctx, []string{"abc"}, ts)
	if len(got) != 1 || got[0].Symbol != "abc" {
		t.Errorf("expected lowercase match, got %+v", got)
	}
}

func TestMemoryStore_ListRunsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = s.RecordRun(ctx, &model.Run{ID: id})
	}
	runs, _ := s.ListRuns(ctx, 2)
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("unexpected order %+v", runs)
	}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)
}

func TestCachedStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	s.prefix = "tradesim-test-" + uuid.NewString()
	exerciseStore(t, s)

	// A cached list must be invalidated by the next append.
	ctx := context.Background()
	before, _ := s.ListTrades(ctx)
	if _, err := s.AppendTrades(ctx, []model.TradeEvent{trade(uuid.NewString(), time.Now().UTC())}); err != nil {
		t.Fatal(err)
	}
	after, _ := s.ListTrades(ctx)
	if len(after) != len(before)+1 {
		t.Errorf("stale trade cache: %d -> %d", len(before), len(after))
	}
	rdb.Del(ctx, s.tradesKey(), s.runsKey())
}

func TestCachedStore_Primary(t *testing.T) {
	ms := NewMemoryStore()
	s := NewCachedStore(ms, nil, time.Minute)
	if s.Primary() != Store(ms) {
		t.Error("Primary should return the wrapped store")
	}
}
