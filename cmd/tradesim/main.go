package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tradesim/trade-simulator/internal/config"
	"github.com/tradesim/trade-simulator/internal/discord"
	"github.com/tradesim/trade-simulator/internal/engine"
	"github.com/tradesim/trade-simulator/internal/events"
	"github.com/tradesim/trade-simulator/internal/prices"
	"github.com/tradesim/trade-simulator/internal/report"
	"github.com/tradesim/trade-simulator/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tradesim",
		Short: "Simulated share trading from Discord chat commands",
		Long: `tradesim reads buy/sell/add/subtract commands from a Discord channel,
values every trader's holdings against minute prices inside market hours and
posts a ranked leaderboard.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newPricesCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch chat commands and append new trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.runner.Ingest(ctx)
			return err
		},
	}
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Recompute standings and post them",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout, _ := cmd.Flags().GetBool("stdout")
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{stdout: stdout})
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.runner.Report(ctx)
			return err
		},
	}
	cmd.PersistentFlags().Bool("stdout", false, "Print to the terminal instead of posting to the webhook")
	cmd.AddCommand(newDailyCmd())
	return cmd
}

func newDailyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Post the day's top gainers and losers among traded symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout, _ := cmd.Flags().GetBool("stdout")
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{stdout: stdout})
			if err != nil {
				return err
			}
			defer a.Close()

			if !stdout && a.cfg.WebhookURL == "" {
				return fmt.Errorf("daily report: WEBHOOK_URL is not set")
			}

			trades, err := a.store.ListTrades(ctx)
			if err != nil {
				return fmt.Errorf("list trades: %w", err)
			}
			since := time.Now().UTC().Add(-report.DailyLookback)
			points, err := a.store.Prices(ctx, engine.Symbols(trades, a.opts.CashSymbol), since)
			if err != nil {
				return fmt.Errorf("query prices: %w", err)
			}

			changes := report.DailyChanges(points)
			slog.Info("daily report computed", "symbols", len(changes))
			if stdout {
				fmt.Println(report.DailyText(changes))
				return nil
			}
			return report.NewWebhook(a.cfg.WebhookURL, "Trade Simulator").DailyReport(ctx, changes)
		},
	}
}

func newPricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Import minute prices for every traded symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			end := time.Now().UTC()
			_, err = a.importPrices(ctx, end.AddDate(0, 0, -days), end)
			return err
		},
	}
	cmd.Flags().Int("days", 7, "Days of minute history to import")
	return cmd
}

type appOptions struct {
	stdout bool
}

// app holds the collaborators shared by every command.
type app struct {
	cfg      *config.Config
	opts     engine.Options
	store    store.Store
	runner   *engine.Runner
	importer *prices.Importer
	cleanup  []func()
}

func newApp(ctx context.Context, o appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := cfg.EngineOptions()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, opts: opts}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	c := engine.Collaborators{Store: a.store}

	if cfg.DiscordEnabled() {
		dc := discord.New(discord.Config{
			Token:         cfg.AuthToken,
			ChannelID:     cfg.ChannelID,
			GuildID:       cfg.GuildID,
			Limit:         cfg.MessageLimit,
			PollingPeriod: cfg.PollingPeriod(),
		})
		c.Chat = dc
		if cfg.GuildID != "" {
			c.Names = dc
		}
	}

	switch {
	case o.stdout:
		c.Reporter = report.Terminal{W: os.Stdout, Currency: cfg.Currency, Location: cfg.Location()}
	case cfg.WebhookURL != "":
		c.Reporter = report.NewWebhook(cfg.WebhookURL, "Trade Simulator")
	}

	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL, slog.Default())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cleanup = append(a.cleanup, func() { pub.Close() })
		c.Publisher = pub
		slog.Info("publishing run events to NATS")
	} else {
		c.Publisher = events.Nop{}
	}

	a.runner = engine.NewRunner(c, opts, slog.Default())
	a.importer = prices.NewImporter(prices.Yahoo{}, a.store, cfg.YahooSuffix, slog.Default())
	return a, nil
}

// openStore picks PostgreSQL when DATABASE_URL is set, optionally behind a
// Redis cache, and the in-memory store otherwise.
func (a *app) openStore(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		a.store = store.NewMemoryStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.cleanup = append(a.cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	a.store = pg
	slog.Info("connected to PostgreSQL")

	if a.cfg.RedisURL != "" {
		opt, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		a.cleanup = append(a.cleanup, func() { rdb.Close() })
		a.store = store.NewCachedStore(pg, rdb, 30*time.Second)
		slog.Info("Redis cache enabled")
	}
	return nil
}

// importPrices fetches minute bars for every symbol traded so far.
func (a *app) importPrices(ctx context.Context, start, end time.Time) (int, error) {
	trades, err := a.store.ListTrades(ctx)
	if err != nil {
		return 0, fmt.Errorf("list trades: %w", err)
	}
	symbols := engine.Symbols(trades, a.opts.CashSymbol)
	if len(symbols) == 0 {
		slog.Info("prices: no traded symbols")
		return 0, nil
	}
	return a.importer.Import(ctx, symbols, start, end)
}

// cycle is one scheduled pass: ingest, refresh prices, report. Run
// failures are logged by the runner.
func (a *app) cycle(ctx context.Context) {
	if _, err := a.runner.Ingest(ctx); err != nil {
		return
	}
	end := time.Now().UTC()
	if _, err := a.importPrices(ctx, end.Add(-prices.MaxMinuteHistory), end); err != nil {
		slog.Error("price import failed", "err", err)
	}
	if _, err := a.runner.Report(ctx); err != nil {
		return
	}
}

func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}
