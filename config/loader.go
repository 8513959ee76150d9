package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load starts from Defaults, overlays the TOML file at path when path is not
// empty, loads .env if present and applies BACKTEST_* environment overrides.
// The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			log.Printf("[config] ignoring unknown keys in %s: %v", path, undec)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose BACKTEST_* variable is set.
// Values that do not parse are recorded for Validate and leave the field as is.
func applyEnvOverrides(cfg *Config) {
	e := envReader{cfg: cfg}

	e.setFloat64(&cfg.InitialCapital, "BACKTEST_INITIAL_CAPITAL")
	e.setFloat64(&cfg.InvestmentFraction, "BACKTEST_INVESTMENT_FRACTION")
	e.setInt64(&cfg.SellQuantity, "BACKTEST_SELL_QUANTITY")
	e.setInt64(&cfg.SlippageBps, "BACKTEST_SLIPPAGE_BPS")

	e.setInt(&cfg.ShortPeriod, "BACKTEST_SHORT_PERIOD")
	e.setInt(&cfg.LongPeriod, "BACKTEST_LONG_PERIOD")
	e.setPeriods(&cfg.CrossPeriods, "BACKTEST_CROSS_PERIODS")
	e.setBool(&cfg.LogGeneratedOrders, "BACKTEST_LOG_GENERATED_ORDERS")

	e.setStr(&cfg.StartDate, "BACKTEST_START_DATE")
	e.setStr(&cfg.EndDate, "BACKTEST_END_DATE")
	e.setStr(&cfg.DataDir, "BACKTEST_DATA_DIR")
	e.setStr(&cfg.BarsDB, "BACKTEST_BARS_DB")
	e.setBool(&cfg.AdjustClose, "BACKTEST_ADJUST_CLOSE")

	e.setStr(&cfg.LogFile, "BACKTEST_LOG_FILE")
	e.setStr(&cfg.JournalPath, "BACKTEST_JOURNAL_PATH")
	e.setStr(&cfg.RedisAddr, "BACKTEST_REDIS_ADDR")
	e.setStr(&cfg.RedisPassword, "BACKTEST_REDIS_PASSWORD")
	e.setInt(&cfg.RedisDB, "BACKTEST_REDIS_DB")
	e.setStr(&cfg.RedisStreamPrefix, "BACKTEST_REDIS_STREAM_PREFIX")
	e.setStr(&cfg.MetricsAddr, "BACKTEST_METRICS_ADDR")
	e.setStr(&cfg.LogLevel, "BACKTEST_LOG_LEVEL")

	e.setStr(&cfg.NotifyWebhookURL, "BACKTEST_NOTIFY_WEBHOOK_URL")
	e.setStr(&cfg.NotifyTelegramToken, "BACKTEST_NOTIFY_TELEGRAM_TOKEN")
	e.setStr(&cfg.NotifyTelegramChatID, "BACKTEST_NOTIFY_TELEGRAM_CHAT_ID")
}

type envReader struct {
	cfg *Config
}

func (e envReader) fail(key, v string, err error) {
	e.cfg.invalid = append(e.cfg.invalid, fmt.Sprintf("%s=%q: %v", key, v, err))
}

func (e envReader) setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e envReader) setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e envReader) setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

// setFloat64 accepts only finite values; "NaN" and "Inf" are rejected.
func (e envReader) setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil && !finite(f) {
			err = fmt.Errorf("not a finite number")
		}
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e envReader) setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e envReader) setPeriods(dst *[]int, key string) {
	if v := os.Getenv(key); v != "" {
		out, err := ParsePeriods(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = out
	}
}
