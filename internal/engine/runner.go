package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradesim/trade-simulator/internal/markethours"
	"github.com/tradesim/trade-simulator/internal/metrics"
	"github.com/tradesim/trade-simulator/internal/model"
	"github.com/tradesim/trade-simulator/internal/store"
)

// Run kinds.
const (
	KindIngest = "ingest"
	KindReport = "report"
)

// ChatSource supplies recent messages from the trading channel.
type ChatSource interface {
	Messages(ctx context.Context) ([]model.ChatCommand, error)
}

// NameResolver maps usernames to display names.
type NameResolver interface {
	DisplayNames(ctx context.Context) (map[string]string, error)
}

// Reporter renders a finished valuation somewhere people can read it.
type Reporter interface {
	Report(ctx context.Context, standings []model.Standing, snapshots []model.BalanceSnapshot) error
}

// Publisher announces completed runs.
type Publisher interface {
	PublishRun(ctx context.Context, run model.Run) error
}

// Collaborators are the I/O boundaries a Runner talks to. Only Store is
// required; a nil Chat makes Ingest a no-op.
type Collaborators struct {
	Store     store.Store
	Chat      ChatSource
	Names     NameResolver
	Reporter  Reporter
	Publisher Publisher
}

// Report is the latest valuation kept for the read API.
type Report struct {
	Run       model.Run
	Valuation Valuation
	At        time.Time
}

// Runner executes ingestion and report passes against the collaborators.
// Runs are serialized so a scheduled pass and a manual trigger never
// interleave.
type Runner struct {
	c      Collaborators
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	latest *Report
	hooks  []func(Report)
}

// NewRunner creates a runner. Pass nil for logger to use slog.Default().
func NewRunner(c Collaborators, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		c:      c,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnReport registers fn to be called after every successful report.
func (r *Runner) OnReport(fn func(Report)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Latest returns the most recent report, or nil before the first one.
func (r *Runner) Latest() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Ingest fetches chat messages, parses them and appends trades whose id is
// not stored yet.
func (r *Runner) Ingest(ctx context.Context) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ingest(ctx)
}

// Report recomputes the valuation from the stored trades and prices and
// hands it to the reporter.
func (r *Runner) Report(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report(ctx)
}

// RunOnce ingests and then reports.
func (r *Runner) RunOnce(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.ingest(ctx); err != nil {
		return nil, err
	}
	return r.report(ctx)
}

func (r *Runner) ingest(ctx context.Context) (*model.Run, error) {
	run := r.startRun(KindIngest)
	log := r.logger.With("run_id", run.ID, "kind", run.Kind)

	if r.c.Chat == nil {
		log.Warn("ingest: no chat source configured")
		return run, nil
	}

	msgs, err := r.c.Chat.Messages(ctx)
	if err != nil {
		return nil, r.fail(run, fmt.Errorf("fetch messages: %w", err))
	}
	run.Commands = len(msgs)
	metrics.CommandsSeen.Add(float64(len(msgs)))

	// Persisted balances are never derived from a cached trade list.
	stored, err := primary(r.c.Store).ListTrades(ctx)
	if err != nil {
		return nil, r.fail(run, fmt.Errorf("list trades: %w", err))
	}
	ids, err := r.c.Store.ExistingTradeIDs(ctx)
	if err != nil {
		return nil, r.fail(run, fmt.Errorf("read trade ids: %w", err))
	}
	for _, t := range stored {
		ids[t.ID] = struct{}{}
	}

	batch := Trades(msgs, stored, r.opts)
	fresh := batch.New[:0:0]
	for _, t := range batch.New {
		if _, ok := ids[t.ID]; ok {
			batch.Duplicates = append(batch.Duplicates, t.ID)
			continue
		}
		fresh = append(fresh, t)
	}

	for _, m := range batch.Malformed {
		log.Warn("ingest: skipping malformed command", "id", m.ID, "content", m.Content, "reason", m.Reason)
	}
	for _, t := range fresh {
		metrics.TradesParsed.WithLabelValues(string(t.Action)).Inc()
	}
	metrics.MalformedCommands.Add(float64(len(batch.Malformed)))
	metrics.DuplicateTrades.Add(float64(len(batch.Duplicates)))

	n, err := r.c.Store.AppendTrades(ctx, fresh)
	if err != nil {
		return nil, r.fail(run, fmt.Errorf("append trades: %w", err))
	}
	metrics.TradesAppended.Add(float64(n))

	run.Parsed = len(fresh) + len(batch.Duplicates)
	run.Malformed = len(batch.Malformed)
	run.Duplicates = len(batch.Duplicates)
	run.Appended = n
	if n == 0 {
		log.Info("ingest: no new trades", "commands", run.Commands, "duplicates", run.Duplicates)
	} else {
		log.Info("ingest: trades appended", "count", n, "malformed", run.Malformed, "duplicates", run.Duplicates)
	}

	r.finishRun(ctx, run)
	return run, nil
}

func (r *Runner) report(ctx context.Context) (*Report, error) {
	run := r.startRun(KindReport)
	log := r.logger.With("run_id", run.ID, "kind", run.Kind)

	trades, err := r.c.Store.ListTrades(ctx)
	if err != nil {
		return nil, r.fail(run, fmt.Errorf("list trades: %w", err))
	}

	var prices []model.PricePoint
	if first, ok := Earliest(trades); ok {
		prices, err = r.c.Store.Prices(ctx, Symbols(trades, r.opts.CashSymbol), markethours.StartOfDay(first))
		if err != nil {
			return nil, r.fail(run, fmt.Errorf("query prices: %w", err))
		}
	}

	opts := r.opts
	if r.c.Names != nil {
		names, err := r.c.Names.DisplayNames(ctx)
		if err != nil {
			log.Warn("report: display names unavailable", "err", err)
		} else {
			opts.DisplayNames = names
		}
	}

	val := Value(trades, prices, r.now(), opts)
	for _, sym := range val.EmptySymbols {
		if model.SameSymbol(sym, opts.CashSymbol) {
			continue
		}
		log.Warn("spine: symbol has no price ticks", "symbol", sym)
		metrics.EmptyPriceWindows.WithLabelValues(sym).Inc()
	}
	metrics.Traders.Set(float64(len(val.Standings)))

	if r.c.Reporter != nil {
		if err := r.c.Reporter.Report(ctx, val.Standings, val.Snapshots); err != nil {
			return nil, r.fail(run, fmt.Errorf("send report: %w", err))
		}
	}

	run.Parsed = len(trades)
	run.EmptySymbols = val.EmptySymbols
	r.finishRun(ctx, run)
	log.Info("report: standings computed", "traders", len(val.Standings), "trades", len(trades))

	rep := &Report{Run: *run, Valuation: val, At: run.FinishedAt}
	r.latest = rep
	for _, fn := range r.hooks {
		fn(*rep)
	}
	return rep, nil
}

// primary unwraps a caching store.
func primary(st store.Store) store.Store {
	if c, ok := st.(interface{ Primary() store.Store }); ok {
		return c.Primary()
	}
	return st
}

func (r *Runner) startRun(kind string) *model.Run {
	return &model.Run{ID: uuid.NewString(), Kind: kind, StartedAt: r.now()}
}

// finishRun records and publishes a run. Failures here are logged only; the
// trades are already stored.
func (r *Runner) finishRun(ctx context.Context, run *model.Run) {
	run.FinishedAt = r.now()
	metrics.RunDuration.WithLabelValues(run.Kind).Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())

	if err := r.c.Store.RecordRun(ctx, run); err != nil {
		r.logger.Error("record run failed", "run_id", run.ID, "err", err)
	}
	if r.c.Publisher != nil {
		if err := r.c.Publisher.PublishRun(ctx, *run); err != nil {
			r.logger.Error("publish run failed", "run_id", run.ID, "err", err)
		}
	}
}

func (r *Runner) fail(run *model.Run, err error) error {
	metrics.RunFailures.WithLabelValues(run.Kind).Inc()
	r.logger.Error("run failed", "run_id", run.ID, "kind", run.Kind, "err", err)
	return err
}
