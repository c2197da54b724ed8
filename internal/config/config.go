// Package config loads runtime settings from an optional YAML file, a .env
// file and the process environment, in that order of precedence (lowest
// first).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Rhymond/go-money"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/tradesim/trade-simulator/internal/command"
	"github.com/tradesim/trade-simulator/internal/engine"
	"github.com/tradesim/trade-simulator/internal/ledger"
	"github.com/tradesim/trade-simulator/internal/markethours"
)

// FileEnv names the variable pointing at a YAML config file.
const FileEnv = "TRADESIM_CONFIG"

type Config struct {
	// Discord
	ChannelID            string `yaml:"channel_id"`
	GuildID              string `yaml:"guild_id"`
	AuthToken            string `yaml:"-"`
	WebhookURL           string `yaml:"-"`
	MessageLimit         int    `yaml:"message_limit"`
	PollingPeriodMinutes int    `yaml:"polling_period_minutes"`

	// Infrastructure
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	NATSURL     string `yaml:"nats_url"`
	Port        string `yaml:"port"`

	// Scheduling
	PollSchedule string `yaml:"poll_schedule"`

	// Market
	CashSymbol  string   `yaml:"cash_symbol"`
	Currency    string   `yaml:"currency"`
	Brokerage   float64  `yaml:"brokerage"`
	MarketOpen  string   `yaml:"market_open"`
	MarketClose string   `yaml:"market_close"`
	TradingDays []string `yaml:"trading_days"`
	YahooSuffix string   `yaml:"yahoo_suffix"`
	DisplayTZ   string   `yaml:"display_tz"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() *Config {
	return &Config{
		MessageLimit: 50,
		Port:         "8080",
		PollSchedule: "*/15 0-6 * * 1-5",
		CashSymbol:   ledger.DefaultCashSymbol,
		Currency:     "AUD",
		Brokerage:    command.DefaultBrokerage,
		MarketOpen:   "00:00",
		MarketClose:  "06:00",
		TradingDays:  []string{"mon", "tue", "wed", "thu", "fri"},
		YahooSuffix:  ".AX",
		DisplayTZ:    "Australia/Sydney",
	}
}

// Load reads .env (if present), then the YAML file named by TRADESIM_CONFIG
// (if set), then applies environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.overrideFromEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) overrideFromEnv() {
	c.ChannelID = envStr("CHANNEL_ID", c.ChannelID)
	c.GuildID = envStr("GUILD_ID", c.GuildID)
	c.AuthToken = envStr("AUTH_TOKEN", c.AuthToken)
	c.WebhookURL = envStr("WEBHOOK_URL", c.WebhookURL)
	c.MessageLimit = envInt("MESSAGE_LIMIT", c.MessageLimit)
	c.PollingPeriodMinutes = envInt("POLLING_PERIOD", c.PollingPeriodMinutes)

	c.DatabaseURL = envStr("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = envStr("REDIS_URL", c.RedisURL)
	c.NATSURL = envStr("NATS_URL", c.NATSURL)
	c.Port = envStr("PORT", c.Port)

	c.PollSchedule = envStr("POLL_SCHEDULE", c.PollSchedule)

	c.CashSymbol = envStr("CASH_SYMBOL", c.CashSymbol)
	c.Currency = strings.ToUpper(envStr("CURRENCY", c.Currency))
	c.Brokerage = envFloat("BROKERAGE", c.Brokerage)
	c.MarketOpen = envStr("MARKET_OPEN", c.MarketOpen)
	c.MarketClose = envStr("MARKET_CLOSE", c.MarketClose)
	if days := envStr("TRADING_DAYS", ""); days != "" {
		c.TradingDays = strings.Split(days, ",")
	}
	c.YahooSuffix = envStr("YAHOO_SUFFIX", c.YahooSuffix)
	c.DisplayTZ = envStr("DISPLAY_TZ", c.DisplayTZ)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if _, err := c.Window(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := cron.ParseStandard(c.PollSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("POLL_SCHEDULE %q: %v", c.PollSchedule, err))
	}
	if money.GetCurrency(c.Currency) == nil {
		errs = append(errs, fmt.Sprintf("CURRENCY %q is not an ISO 4217 code", c.Currency))
	}
	if c.Brokerage < 0 {
		errs = append(errs, "BROKERAGE must not be negative")
	}
	if c.MessageLimit < 1 || c.MessageLimit > 100 {
		errs = append(errs, "MESSAGE_LIMIT must be between 1 and 100")
	}
	if c.PollingPeriodMinutes < 0 {
		errs = append(errs, "POLLING_PERIOD must not be negative")
	}
	if strings.TrimSpace(c.CashSymbol) == "" {
		errs = append(errs, "CASH_SYMBOL is required")
	}
	if _, err := time.LoadLocation(c.DisplayTZ); err != nil {
		errs = append(errs, fmt.Sprintf("DISPLAY_TZ %q: %v", c.DisplayTZ, err))
	}

	if !c.DiscordEnabled() {
		slog.Warn("CHANNEL_ID or AUTH_TOKEN not set, ingestion disabled")
	}
	if c.WebhookURL == "" {
		slog.Warn("WEBHOOK_URL not set, standings are not posted")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// DiscordEnabled reports whether chat ingestion can run.
func (c *Config) DiscordEnabled() bool {
	return c.ChannelID != "" && c.AuthToken != ""
}

// PollingPeriod is the message age cutoff; zero keeps every fetched message.
func (c *Config) PollingPeriod() time.Duration {
	return time.Duration(c.PollingPeriodMinutes) * time.Minute
}

// Window builds the trading window from MARKET_OPEN, MARKET_CLOSE and the
// trading days.
func (c *Config) Window() (markethours.Window, error) {
	open, err := markethours.ParseClock(c.MarketOpen)
	if err != nil {
		return markethours.Window{}, fmt.Errorf("MARKET_OPEN: %w", err)
	}
	closeAt, err := markethours.ParseClock(c.MarketClose)
	if err != nil {
		return markethours.Window{}, fmt.Errorf("MARKET_CLOSE: %w", err)
	}
	days, err := parseDays(c.TradingDays)
	if err != nil {
		return markethours.Window{}, err
	}
	w := markethours.Window{Open: open, Close: closeAt, Days: days}
	if err := w.Validate(); err != nil {
		return markethours.Window{}, err
	}
	return w, nil
}

// EngineOptions converts the market settings into pipeline options.
func (c *Config) EngineOptions() (engine.Options, error) {
	w, err := c.Window()
	if err != nil {
		return engine.Options{}, err
	}
	opts := engine.DefaultOptions()
	opts.Window = w
	opts.Command.Brokerage = decimal.NewFromFloat(c.Brokerage)
	opts.CashSymbol = c.CashSymbol
	opts.Currency = c.Currency
	return opts, nil
}

// Location returns the zone used for human-facing timestamps. It falls back
// to UTC for an unknown zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseDays(names []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if len(key) > 3 {
			key = key[:3]
		}
		d, ok := weekdays[key]
		if !ok {
			return nil, fmt.Errorf("TRADING_DAYS: unknown weekday %q", n)
		}
		out = append(out, d)
	}
	return out, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
