// Package config holds the backtest configuration: built-in defaults, an
// optional TOML file, a .env file and BACKTEST_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"trading-backtest/internal/model"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all backtest configuration.
type Config struct {
	// Account and sizing
	InitialCapital     float64 `toml:"initial_capital"`
	InvestmentFraction float64 `toml:"investment_fraction"`
	SellQuantity       int64   `toml:"sell_quantity"` // 0 sells the whole holding
	SlippageBps        int64   `toml:"slippage_bps"`

	// Strategies
	ShortPeriod  int   `toml:"short_period"`
	LongPeriod   int   `toml:"long_period"`
	CrossPeriods []int `toml:"cross_periods"`

	LogGeneratedOrders bool `toml:"log_generated_orders"`

	// Data
	StartDate   string `toml:"start_date"` // YYYY-MM-DD, inclusive
	EndDate     string `toml:"end_date"`   // YYYY-MM-DD, inclusive
	DataDir     string `toml:"data_dir"`
	BarsDB      string `toml:"bars_db"` // read bars from SQLite instead of CSV when set
	AdjustClose bool   `toml:"adjust_close"`

	// Outputs
	LogFile           string `toml:"log_file"`
	JournalPath       string `toml:"journal_path"`
	RedisAddr         string `toml:"redis_addr"`
	RedisPassword     string `toml:"redis_password"`
	RedisDB           int    `toml:"redis_db"`
	RedisStreamPrefix string `toml:"redis_stream_prefix"`
	MetricsAddr       string `toml:"metrics_addr"`
	LogLevel          string `toml:"log_level"`

	// Run-end notifications
	NotifyWebhookURL     string `toml:"notify_webhook_url"`
	NotifyTelegramToken  string `toml:"notify_telegram_token"`
	NotifyTelegramChatID string `toml:"notify_telegram_chat_id"`

	// unparsable override values, reported by Validate
	invalid []string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		InitialCapital:     100000,
		InvestmentFraction: 0.1,
		ShortPeriod:        10,
		LongPeriod:         30,
		CrossPeriods:       []int{10, 30},
		StartDate:          "2021-01-01",
		EndDate:            "2021-12-31",
		DataDir:            "data",
		AdjustClose:        true,
		LogFile:            "logs/operations.log",
		RedisStreamPrefix:  "backtest",
		LogLevel:           "info",
	}
}

// Start returns the parsed start date; the zero time when unset.
func (c *Config) Start() (time.Time, error) { return parseDate(c.StartDate) }

// End returns the parsed end date; the zero time when unset.
func (c *Config) End() (time.Time, error) { return parseDate(c.EndDate) }

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(model.DateLayout, s)
}

// StrategyPeriods returns the distinct SMA periods the configured strategies
// need, ascending.
func (c *Config) StrategyPeriods() []int {
	seen := make(map[int]bool, len(c.CrossPeriods)+2)
	out := make([]int, 0, len(c.CrossPeriods)+2)
	add := func(p int) {
		if p > 0 && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range c.CrossPeriods {
		add(p)
	}
	add(c.ShortPeriod)
	add(c.LongPeriod)
	sort.Ints(out)
	return out
}

// Validate reports every problem found, joined into one error wrapping
// ErrInvalid.
func (c *Config) Validate() error {
	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	problems = append(problems, c.invalid...)

	if !finite(c.InitialCapital) || c.InitialCapital <= 0 {
		bad("initial_capital must be > 0, got %v", c.InitialCapital)
	}
	if !finite(c.InvestmentFraction) || c.InvestmentFraction <= 0 || c.InvestmentFraction > 1 {
		bad("investment_fraction must be in (0, 1], got %v", c.InvestmentFraction)
	}
	if c.SellQuantity < 0 {
		bad("sell_quantity must be >= 0, got %d", c.SellQuantity)
	}
	if c.SlippageBps < 0 {
		bad("slippage_bps must be >= 0, got %d", c.SlippageBps)
	}
	if c.ShortPeriod < 1 {
		bad("short_period must be >= 1, got %d", c.ShortPeriod)
	}
	if c.LongPeriod < 1 {
		bad("long_period must be >= 1, got %d", c.LongPeriod)
	}
	if c.ShortPeriod >= c.LongPeriod {
		bad("short_period (%d) must be < long_period (%d)", c.ShortPeriod, c.LongPeriod)
	}
	if len(c.CrossPeriods) == 0 {
		bad("cross_periods must name at least one period")
	}
	for _, p := range c.CrossPeriods {
		if p < 1 {
			bad("cross_periods entries must be >= 1, got %d", p)
		}
	}

	start, err := c.Start()
	if err != nil {
		bad("start_date %q: %v", c.StartDate, err)
	}
	end, err2 := c.End()
	if err2 != nil {
		bad("end_date %q: %v", c.EndDate, err2)
	}
	if err == nil && err2 == nil && !start.IsZero() && !end.IsZero() && start.After(end) {
		bad("start_date %s is after end_date %s", c.StartDate, c.EndDate)
	}

	if c.BarsDB == "" && c.DataDir == "" {
		bad("one of data_dir or bars_db must be set")
	}
	if c.LogFile == "" {
		bad("log_file must be set")
	}
	if (c.NotifyTelegramToken == "") != (c.NotifyTelegramChatID == "") {
		bad("notify_telegram_token and notify_telegram_chat_id must be set together")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// ParsePeriods parses a comma-separated period list such as "10,30". Empty
// entries are skipped.
func ParsePeriods(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("period %q is not an integer", p)
		}
		out = append(out, n)
	}
	return out, nil
}
