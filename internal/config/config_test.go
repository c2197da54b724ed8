package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	w, err := cfg.Window()
	if err != nil {
		t.Fatal(err)
	}
	if w.Open != 0 || w.Close != 6*time.Hour || len(w.Days) != 5 {
		t.Errorf("unexpected default window %+v", w)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("BROKERAGE", "9.5")
	t.Setenv("CURRENCY", "usd")
	t.Setenv("MARKET_OPEN", "13:30")
	t.Setenv("MARKET_CLOSE", "20:00")
	t.Setenv("POLLING_PERIOD", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	opts, err := cfg.EngineOptions()
	if err != nil {
		t.Fatal(err)
	}
	if !opts.Command.Brokerage.Equal(decimal.RequireFromString("9.5")) {
		t.Errorf("brokerage = %s", opts.Command.Brokerage)
	}
	if opts.Currency != "USD" {
		t.Errorf("currency = %s", opts.Currency)
	}
	if opts.Window.Open != 13*time.Hour+30*time.Minute {
		t.Errorf("open = %s", opts.Window.Open)
	}
	if cfg.PollingPeriod() != 30*time.Minute {
		t.Errorf("polling period = %s", cfg.PollingPeriod())
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tradesim.yaml")
	body := "channel_id: \"123\"\nmarket_close: \"05:00\"\ntrading_days: [monday, wednesday]\nport: \"9000\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChannelID != "123" {
		t.Errorf("channel id from file = %q", cfg.ChannelID)
	}
	if cfg.Port != "9100" {
		t.Errorf("env should win over file, port = %q", cfg.Port)
	}
	w, err := cfg.Window()
	if err != nil {
		t.Fatal(err)
	}
	if w.Close != 5*time.Hour || len(w.Days) != 2 || w.Days[1] != time.Wednesday {
		t.Errorf("unexpected window %+v", w)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.MarketOpen = "7:00pm"
	cfg.PollSchedule = "every minute"
	cfg.Currency = "XYZ"
	cfg.MessageLimit = 500
	cfg.Brokerage = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"MARKET_OPEN", "POLL_SCHEDULE", "CURRENCY", "MESSAGE_LIMIT", "BROKERAGE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestWindow_RejectsInvertedHours(t *testing.T) {
	cfg := Defaults()
	cfg.MarketOpen, cfg.MarketClose = "06:00", "01:00"
	if _, err := cfg.Window(); err == nil {
		t.Error("expected error for close before open")
	}
}

func TestLocation_FallsBackToUTC(t *testing.T) {
	cfg := Defaults()
	cfg.DisplayTZ = "Mars/Olympus"
	if cfg.Location() != time.UTC {
		t.Error("expected UTC fallback")
	}
}

func TestWindow_AllDayEveryDay(t *testing.T) {
	cfg := Defaults()
	cfg.MarketOpen, cfg.MarketClose = "00:00", "24:00"
	cfg.TradingDays = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}
	w, err := cfg.Window()
	if err != nil {
		t.Fatal(err)
	}
	if w.Close != 23*time.Hour+59*time.Minute || len(w.Days) != 7 {
		t.Errorf("unexpected window %+v", w)
	}
}
