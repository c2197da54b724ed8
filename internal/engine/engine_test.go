package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/tradesim/trade-simulator/internal/markethours"
	"github.com/tradesim/trade-simulator/internal/metrics"
	"github.com/tradesim/trade-simulator/internal/model"
	"github.com/tradesim/trade-simulator/internal/standings"
	"github.com/tradesim/trade-simulator/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// Wednesday inside the trading window.
var day = time.Date(2023, 6, 21, 0, 0, 0, 0, time.UTC)

func msg(id, user string, at time.Duration, content string) model.ChatCommand {
	return model.ChatCommand{
		ID:        id,
		Timestamp: day.Add(at),
		Author:    model.Author{ID: "u-" + user, Username: user},
		Content:   content,
	}
}

func bobCommands() []model.ChatCommand {
	return []model.ChatCommand{
		msg("1", "bob", time.Hour+10*time.Second, "buy 100 abc"),
		msg("2", "bob", time.Hour+5*time.Minute, "sell 40 abc"),
		msg("3", "bob", time.Hour+10*time.Minute, "add 1000 $aud"),
		msg("4", "bob", time.Hour+11*time.Minute, "nice trade everyone"),
	}
}

func flatPrices() []model.PricePoint {
	return []model.PricePoint{{Symbol: "ABC", Timestamp: day, Price: d(2)}}
}

func lastRow(t *testing.T, rows []model.LedgerRow, author, symbol string) model.LedgerRow {
	t.Helper()
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].AuthorName == author && rows[i].Symbol == symbol {
			return rows[i]
		}
	}
	t.Fatalf("no ledger row for %s/%s", author, symbol)
	return model.LedgerRow{}
}

func TestProcess_EndToEnd(t *testing.T) {
	out := Process(Input{
		Commands: bobCommands(),
		Prices:   flatPrices(),
		Now:      day.Add(2 * time.Hour),
	}, DefaultOptions())

	if len(out.New) != 3 || len(out.Malformed) != 0 {
		t.Fatalf("expected 3 trades, got %d (malformed %d)", len(out.New), len(out.Malformed))
	}

	abc := lastRow(t, out.Ledger, "bob", "abc")
	if abc.Balance != 60 {
		t.Errorf("abc balance = %d, want 60", abc.Balance)
	}
	if !abc.StockBalanceValue.Equal(d(120)) {
		t.Errorf("abc stock value = %s, want 120", abc.StockBalanceValue)
	}

	cash := lastRow(t, out.Ledger, "bob", "$aud")
	if !cash.StockBalanceValue.IsZero() || !cash.StockVolumeValue.IsZero() {
		t.Errorf("cash symbol valued as stock: %+v", cash)
	}

	snap := standings.Latest(out.Snapshots)["bob"]
	if !snap.CashChanges.Equal(d(1000)) {
		t.Errorf("cash_changes = %s, want 1000", snap.CashChanges)
	}
	if !snap.CashBalance.Equal(d(860)) || !snap.TotalBalance.Equal(d(980)) {
		t.Errorf("cash=%s total=%s", snap.CashBalance, snap.TotalBalance)
	}
	if !snap.PctChange.Valid || !snap.PctChange.Decimal.Equal(d(-2)) {
		t.Errorf("pct_change = %+v, want -2", snap.PctChange)
	}

	if len(out.Standings) != 1 || !out.Standings[0].Total.Equal(d(980)) {
		t.Fatalf("unexpected standings %+v", out.Standings)
	}
	if len(out.EmptySymbols) != 1 || out.EmptySymbols[0] != "$aud" {
		t.Errorf("empty symbols = %v", out.EmptySymbols)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	opts := DefaultOptions()
	now := day.Add(2 * time.Hour)
	first := Process(Input{Commands: bobCommands(), Prices: flatPrices(), Now: now}, opts)

	// The next poll overlaps the first and adds one more trade.
	overlap := append(bobCommands(), msg("5", "bob", time.Hour+20*time.Minute, "buy 10 abc"))
	second := Process(Input{Commands: overlap, Stored: first.New, Prices: flatPrices(), Now: now}, opts)

	if len(second.New) != 1 || second.New[0].ID != "5" {
		t.Fatalf("expected only trade 5 to be new, got %+v", second.New)
	}
	if len(second.Duplicates) != 3 {
		t.Errorf("expected 3 duplicates, got %v", second.Duplicates)
	}
	if second.New[0].Balance != 70 {
		t.Errorf("new trade balance = %d, want 70", second.New[0].Balance)
	}

	third := Process(Input{Commands: overlap, Stored: append(first.New, second.New...), Prices: flatPrices(), Now: now}, opts)
	if len(third.New) != 0 || len(third.All) != 4 {
		t.Errorf("rerun changed the trade set: new=%d all=%d", len(third.New), len(third.All))
	}
}

func TestProcess_MalformedDoesNotFailRun(t *testing.T) {
	cmds := append(bobCommands(), msg("9", "amy", time.Hour, "buy lots abc"))
	out := Process(Input{Commands: cmds, Prices: flatPrices(), Now: day.Add(2 * time.Hour)}, DefaultOptions())
	if len(out.Malformed) != 1 || out.Malformed[0].ID != "9" {
		t.Errorf("expected message 9 to be rejected, got %+v", out.Malformed)
	}
	if len(out.New) != 3 {
		t.Errorf("expected remaining trades to be parsed, got %d", len(out.New))
	}
}

func TestTrades_MovesWeekendTradesToMonday(t *testing.T) {
	sat := model.ChatCommand{ID: "w", Timestamp: time.Date(2023, 6, 24, 3, 30, 0, 0, time.UTC),
		Author: model.Author{Username: "bob"}, Content: "buy 1 abc"}
	batch := Trades([]model.ChatCommand{sat}, nil, DefaultOptions())
	want := time.Date(2023, 6, 26, 0, 0, 0, 0, time.UTC)
	if !batch.New[0].Timestamp.Equal(want) {
		t.Errorf("timestamp = %s, want %s", batch.New[0].Timestamp, want)
	}
}

// --- Runner ---

type fakeChat struct {
	msgs []model.ChatCommand
	err  error
}

func (f *fakeChat) Messages(context.Context) ([]model.ChatCommand, error) { return f.msgs, f.err }

type fakeNames map[string]string

func (f fakeNames) DisplayNames(context.Context) (map[string]string, error) { return f, nil }

type fakeReporter struct {
	standings []model.Standing
	calls     int
	err       error
}

func (f *fakeReporter) Report(_ context.Context, s []model.Standing, _ []model.BalanceSnapshot) error {
	f.standings = s
	f.calls++
	return f.err
}

type fakePublisher struct{ runs []model.Run }

func (f *fakePublisher) PublishRun(_ context.Context, r model.Run) error {
	f.runs = append(f.runs, r)
	return nil
}

func newTestRunner(t *testing.T, chat ChatSource) (*Runner, *store.MemoryStore, *fakeReporter, *fakePublisher) {
	t.Helper()
	ms := store.NewMemoryStore()
	if err := ms.RecordPrices(context.Background(), flatPrices()); err != nil {
		t.Fatal(err)
	}
	rep := &fakeReporter{}
	pub := &fakePublisher{}
	r := NewRunner(Collaborators{
		Store:     ms,
		Chat:      chat,
		Names:     fakeNames{"bob": "Bobby"},
		Reporter:  rep,
		Publisher: pub,
	}, DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.now = func() time.Time { return day.Add(2 * time.Hour) }
	return r, ms, rep, pub
}

func TestRunner_IngestTwice(t *testing.T) {
	r, ms, _, pub := newTestRunner(t, &fakeChat{msgs: bobCommands()})
	ctx := context.Background()

	run, err := r.Ingest(ctx)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if run.Appended != 3 || run.Commands != 4 {
		t.Errorf("first run = %+v", run)
	}

	run, err = r.Ingest(ctx)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if run.Appended != 0 || run.Duplicates != 3 {
		t.Errorf("second run = %+v", run)
	}

	trades, _ := ms.ListTrades(ctx)
	if len(trades) != 3 {
		t.Errorf("store holds %d trades, want 3", len(trades))
	}
	runs, _ := ms.ListRuns(ctx, 0)
	if len(runs) != 2 || len(pub.runs) != 2 {
		t.Errorf("expected 2 recorded and published runs, got %d/%d", len(runs), len(pub.runs))
	}
}

func TestRunner_RunOnceReports(t *testing.T) {
	r, _, rep, _ := newTestRunner(t, &fakeChat{msgs: bobCommands()})

	var hooked *Report
	r.OnReport(func(rp Report) { hooked = &rp })

	out, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.calls != 1 || len(rep.standings) != 1 {
		t.Fatalf("reporter got %d calls, %d standings", rep.calls, len(rep.standings))
	}
	s := rep.standings[0]
	if s.DisplayName != "Bobby" || !s.Total.Equal(d(980)) {
		t.Errorf("unexpected standing %+v", s)
	}
	if r.Latest() != out || hooked == nil || hooked.Run.ID != out.Run.ID {
		t.Error("latest report was not kept or announced")
	}
}

func TestRunner_ChatFailure(t *testing.T) {
	boom := errors.New("discord down")
	r, ms, _, _ := newTestRunner(t, &fakeChat{err: boom})
	if _, err := r.Ingest(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped chat error, got %v", err)
	}
	runs, _ := ms.ListRuns(context.Background(), 0)
	if len(runs) != 0 {
		t.Errorf("failed run should not be recorded")
	}
}

func TestRunner_ReportWithoutTrades(t *testing.T) {
	r, _, rep, _ := newTestRunner(t, nil)
	out, err := r.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(out.Valuation.Standings) != 0 || rep.calls != 1 {
		t.Errorf("expected empty report, got %+v", out.Valuation.Standings)
	}
}

func TestRunner_ReportFailure(t *testing.T) {
	r, ms, rep, pub := newTestRunner(t, &fakeChat{msgs: bobCommands()})
	if _, err := r.Ingest(context.Background()); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("webhook down")
	rep.err = boom
	failures := testutil.ToFloat64(metrics.RunFailures.WithLabelValues(KindReport))

	if _, err := r.Report(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped reporter error, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.RunFailures.WithLabelValues(KindReport)); got != failures+1 {
		t.Errorf("failure counter = %v, want %v", got, failures+1)
	}
	if r.Latest() != nil {
		t.Error("failed report should not replace the latest report")
	}
	runs, _ := ms.ListRuns(context.Background(), 0)
	if len(runs) != 1 || len(pub.runs) != 1 {
		t.Errorf("only the ingest run should be recorded, got %d/%d", len(runs), len(pub.runs))
	}
}

func TestProcess_AllDayWindowCountsCashOnce(t *testing.T) {
	opts := DefaultOptions()
	closeAt, err := markethours.ParseClock("24:00")
	if err != nil {
		t.Fatal(err)
	}
	opts.Window = markethours.Window{Open: 0, Close: closeAt, Days: []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
	}}

	thu := time.Date(2023, 6, 22, 0, 0, 0, 0, time.UTC)
	bob := model.Author{ID: "u-bob", Username: "bob"}
	cmds := []model.ChatCommand{
		{ID: "1", Timestamp: thu, Author: bob, Content: "add 1000 $aud"},
		{ID: "2", Timestamp: thu.Add(24 * time.Hour), Author: bob, Content: "add 500 $aud"},
	}
	out := Process(Input{Commands: cmds, Now: thu.Add(25 * time.Hour)}, opts)

	seen := make(map[time.Time]bool)
	for _, r := range out.Ledger {
		if seen[r.Timestamp] {
			t.Fatalf("ledger minute %s repeated", r.Timestamp)
		}
		seen[r.Timestamp] = true
	}
	snap := standings.Latest(out.Snapshots)["bob"]
	if !snap.CashChanges.Equal(d(1500)) {
		t.Errorf("cash_changes = %s, want 1500", snap.CashChanges)
	}
}

// cachedStore serves an out-of-date trade list, like a Redis entry written
// before the last append.
type cachedStore struct {
	store.Store
	stale []model.TradeEvent
}

func (c *cachedStore) ListTrades(context.Context) ([]model.TradeEvent, error) { return c.stale, nil }
func (c *cachedStore) Primary() store.Store                                  { return c.Store }

func TestRunner_IngestBalancesFromPrimary(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	first := Trades(bobCommands()[:1], nil, DefaultOptions()).New
	if _, err := ms.AppendTrades(ctx, first); err != nil {
		t.Fatal(err)
	}

	more := []model.ChatCommand{msg("5", "bob", time.Hour+20*time.Minute, "buy 10 abc")}
	r := NewRunner(Collaborators{Store: &cachedStore{Store: ms}, Chat: &fakeChat{msgs: more}},
		DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.now = func() time.Time { return day.Add(2 * time.Hour) }

	run, err := r.Ingest(ctx)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if run.Appended != 1 {
		t.Fatalf("appended %d trades, want 1", run.Appended)
	}
	trades, _ := ms.ListTrades(ctx)
	for _, tr := range trades {
		if tr.ID == "5" && tr.Balance != 110 {
			t.Errorf("stored balance = %d, want 110", tr.Balance)
		}
	}
}

func TestRunner_ReportSkipsCashInEmptyPriceMetric(t *testing.T) {
	r, _, _, _ := newTestRunner(t, &fakeChat{msgs: bobCommands()})
	before := testutil.ToFloat64(metrics.EmptyPriceWindows.WithLabelValues("$aud"))

	out, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Valuation.EmptySymbols) == 0 {
		t.Fatal("expected the cash symbol to have no ticks")
	}
	if after := testutil.ToFloat64(metrics.EmptyPriceWindows.WithLabelValues("$aud")); after != before {
		t.Errorf("cash symbol counted as an empty price window: %v -> %v", before, after)
	}
}
