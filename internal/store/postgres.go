package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradesim/trade-simulator/internal/model"
)

// Schema creates the tables PostgresStore needs. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	id              TEXT PRIMARY KEY,
	author_id       TEXT NOT NULL,
	author_name     TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	action          TEXT NOT NULL,
	volume          BIGINT NOT NULL,
	stock_volume    BIGINT NOT NULL,
	cash_volume     BIGINT NOT NULL,
	brokerage       NUMERIC NOT NULL,
	timestamp_exact TIMESTAMPTZ NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL,
	balance         BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS trades_timestamp_idx ON trades (timestamp);

CREATE TABLE IF NOT EXISTS prices (
	symbol    TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	price     NUMERIC NOT NULL,
	PRIMARY KEY (symbol, timestamp)
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	commands      INTEGER NOT NULL,
	parsed        INTEGER NOT NULL,
	malformed     INTEGER NOT NULL,
	duplicates    INTEGER NOT NULL,
	appended      INTEGER NOT NULL,
	empty_symbols TEXT[] NOT NULL DEFAULT '{}'
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) ExistingTradeIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM trades`)
	if err != nil {
		return nil, fmt.Errorf("read trade ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// AppendTrades inserts in one batch; ids already present are skipped by the
// primary key rather than failing the batch.
func (s *PostgresStore) AppendTrades(ctx context.Context, trades []model.TradeEvent) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, t := range trades {
		b.Queue(
			`INSERT INTO trades (id, author_id, author_name, symbol, action, volume, stock_volume, cash_volume,
			                     brokerage, timestamp_exact, timestamp, balance)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10, $11, $12)
			 ON CONFLICT (id) DO NOTHING`,
			t.ID, t.AuthorID, t.AuthorName, t.Symbol, string(t.Action),
			t.Volume, t.StockVolume, t.CashVolume,
			t.Brokerage.String(), t.TimestampExact, t.Timestamp, t.Balance,
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	n := 0
	for range trades {
		tag, err := br.Exec()
		if err != nil {
			return n, fmt.Errorf("append trades: %w", err)
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}

func (s *PostgresStore) ListTrades(ctx context.Context) ([]model.TradeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, author_id, author_name, symbol, action, volume, stock_volume, cash_volume,
		        brokerage::TEXT, timestamp_exact, timestamp, balance
		 FROM trades ORDER BY timestamp, timestamp_exact, id`)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) RecordPrices(ctx context.Context, points []model.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, p := range points {
		b.Queue(
			`INSERT INTO prices (symbol, timestamp, price)
			 VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (symbol, timestamp) DO UPDATE SET price = EXCLUDED.price`,
			strings.ToLower(p.Symbol), p.Timestamp.UTC(), p.Price.String(),
		)
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("record prices: %w", err)
	}
	return nil
}

func (s *PostgresStore) Prices(ctx context.Context, symbols []string, since time.Time) ([]model.PricePoint, error) {
	lower := make([]string, len(symbols))
	for i, sym := range symbols {
		lower[i] = strings.ToLower(sym)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, timestamp, price::TEXT
		 FROM prices
		 WHERE LOWER(symbol) = ANY($1) AND timestamp >= $2
		 ORDER BY timestamp, symbol`, lower, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var out []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var priceS string
		if err := rows.Scan(&p.Symbol, &p.Timestamp, &priceS); err != nil {
			return nil, err
		}
		p.Price, _ = decimal.NewFromString(priceS)
		p.Timestamp = p.Timestamp.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordRun(ctx context.Context, r *model.Run) error {
	empty := r.EmptySymbols
	if empty == nil {
		empty = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, started_at, finished_at, commands, parsed, malformed, duplicates, appended, empty_symbols)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.Kind, r.StartedAt, r.FinishedAt,
		r.Commands, r.Parsed, r.Malformed, r.Duplicates, r.Appended, empty,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, started_at, finished_at, commands, parsed, malformed, duplicates, appended, empty_symbols
		 FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.StartedAt, &r.FinishedAt,
			&r.Commands, &r.Parsed, &r.Malformed, &r.Duplicates, &r.Appended, &r.EmptySymbols); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// scanTrades reads pgx rows into TradeEvent slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.TradeEvent, error) {
	var trades []model.TradeEvent
	for rows.Next() {
		var t model.TradeEvent
		var action, brokerageS string

		if err := rows.Scan(&t.ID, &t.AuthorID, &t.AuthorName, &t.Symbol, &action,
			&t.Volume, &t.StockVolume, &t.CashVolume,
			&brokerageS, &t.TimestampExact, &t.Timestamp, &t.Balance); err != nil {
			return nil, err
		}

		t.Action = model.Action(action)
		t.Brokerage, _ = decimal.NewFromString(brokerageS)
		t.TimestampExact = t.TimestampExact.UTC()
		t.Timestamp = t.Timestamp.UTC()

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
