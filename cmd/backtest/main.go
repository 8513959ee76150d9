// cmd/backtest runs the SMA cross strategies over historical daily bars and
// writes the trade log bracketed by the initial and final portfolio values.
//
// Usage:
//
//	go run ./cmd/backtest --config=backtest.toml --data=data --log=logs/operations.log
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trading-backtest/config"
	"trading-backtest/internal/backtest"
	"trading-backtest/internal/execution"
	"trading-backtest/internal/logger"
	"trading-backtest/internal/marketdata/csvfeed"
	"trading-backtest/internal/metrics"
	"trading-backtest/internal/model"
	"trading-backtest/internal/notification"
	"trading-backtest/internal/store/redis"
	sqlitestore "trading-backtest/internal/store/sqlite"
	"trading-backtest/internal/strategy"
	"trading-backtest/internal/tradelog"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	cfgPath := flag.String("config", "", "Path to a TOML config file (optional)")
	dataDir := flag.String("data", "", "Directory of Yahoo-format CSV files")
	barsDB := flag.String("db", "", "Read bars from this SQLite bar store instead of CSV")
	from := flag.String("from", "", "First day to replay (YYYY-MM-DD)")
	to := flag.String("to", "", "Last day to replay (YYYY-MM-DD)")
	logFile := flag.String("log", "", "Trade log file")
	journal := flag.String("journal", "", "SQLite order journal path")
	redisAddr := flag.String("redis", "", "Mirror the trade log to this Redis server")
	metricsAddr := flag.String("metrics", "", "Serve /metrics and /healthz on this address")
	capital := flag.Float64("capital", 0, "Initial capital")
	fraction := flag.Float64("fraction", 0, "Fraction of available cash per buy")
	crossPeriods := flag.String("cross", "", "Comma-separated price-vs-SMA periods, e.g. 10,30")
	short := flag.Int("short", 0, "Golden cross short SMA period")
	long := flag.Int("long", 0, "Golden cross long SMA period")
	sellQty := flag.Int64("sell-qty", 0, "Units per sell (0 = whole holding)")
	slippage := flag.Int64("slippage", 0, "Simulated slippage in basis points")
	logOrders := flag.Bool("log-orders", false, "Also log submitted/accepted notifications")
	level := flag.String("level", "", "Diagnostic log level (debug|info|warn|error)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	// Explicit flags override file and environment
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.DataDir = *dataDir
		case "db":
			cfg.BarsDB = *barsDB
		case "from":
			cfg.StartDate = *from
		case "to":
			cfg.EndDate = *to
		case "log":
			cfg.LogFile = *logFile
		case "journal":
			cfg.JournalPath = *journal
		case "redis":
			cfg.RedisAddr = *redisAddr
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "capital":
			cfg.InitialCapital = *capital
		case "fraction":
			cfg.InvestmentFraction = *fraction
		case "cross":
			periods, err := config.ParsePeriods(*crossPeriods)
			if err != nil {
				flagErr = fmt.Errorf("--cross: %w", err)
				return
			}
			cfg.CrossPeriods = periods
		case "short":
			cfg.ShortPeriod = *short
		case "long":
			cfg.LongPeriod = *long
		case "sell-qty":
			cfg.SellQuantity = *sellQty
		case "slippage":
			cfg.SlippageBps = *slippage
		case "log-orders":
			cfg.LogGeneratedOrders = *logOrders
		case "level":
			cfg.LogLevel = *level
		}
	})
	if flagErr != nil {
		log.Fatalf("[backtest] %v", flagErr)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	lvl, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	slogger := logger.Init("backtest", lvl)

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)

	instruments, err := loadInstruments(ctx, cfg)
	if err != nil {
		log.Fatalf("[backtest] load bars: %v", err)
	}

	// Trade log sinks
	fileSink, err := tradelog.NewFileSink(cfg.LogFile)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	sinks := tradelog.Tee{fileSink}

	health := metrics.NewHealthStatus()

	if cfg.RedisAddr != "" {
		stream, err := redis.Dial(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisStreamPrefix,
		}, runID)
		if err != nil {
			slogger.Warn("redis unavailable, trade log not mirrored", append(logger.LogWithRun(ctx), slog.String("error", err.Error()))...)
		} else {
			sinks = append(sinks, stream)
			health.SetRedisConnected(true)
		}
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Printf("[backtest] closing trade log: %v", err)
		}
	}()

	runner, err := backtest.New(backtest.Config{
		InitialCapital: cfg.InitialCapital,
		SlippageBps:    cfg.SlippageBps,
		Variants:       backtest.Variants(cfg.CrossPeriods, cfg.ShortPeriod, cfg.LongPeriod),
		Params: strategy.Params{
			InvestmentFraction: cfg.InvestmentFraction,
			SellQuantity:       cfg.SellQuantity,
			LogGeneratedOrders: cfg.LogGeneratedOrders,
		},
	}, sinks)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	runner.WithLogger(slogger)

	if cfg.JournalPath != "" {
		j, err := execution.NewJournal(cfg.JournalPath)
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		defer j.Close()
		runner.WithJournal(j)
		health.CheckSQLite(ctx, j.DB())
		go watchJournal(ctx, health, j)
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m := metrics.NewMetrics(reg)
		runner.WithMetrics(m, health)

		srv := metrics.NewServer(cfg.MetricsAddr, health, reg)
		srv.Start()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer stopCancel()
			srv.Stop(stopCtx)
		}()
	}

	notifier := buildNotifier(cfg)

	res, err := runner.Run(ctx, instruments)
	if err != nil {
		slogger.Error("backtest failed", append(logger.LogWithRun(ctx), slog.String("error", err.Error()))...)
		notify(notifier, failureAlert(runID, err))
		os.Exit(1)
	}

	printSummary(res, cfg.LogFile)
	notify(notifier, summaryAlert(res))
}

// watchJournal re-checks the journal database until ctx is done so /healthz
// reports its current latency.
func watchJournal(ctx context.Context, health *metrics.HealthStatus, j *execution.Journal) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health.CheckSQLite(ctx, j.DB())
		}
	}
}

func buildNotifier(cfg *config.Config) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier()}
	if cfg.NotifyWebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.NotifyWebhookURL))
	}
	if cfg.NotifyTelegramToken != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.NotifyTelegramToken, cfg.NotifyTelegramChatID))
	}
	return n
}

func notify(n notification.Notifier, alert notification.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := n.Send(ctx, alert); err != nil {
		log.Printf("[backtest] notification: %v", err)
	}
}

func loadInstruments(ctx context.Context, cfg *config.Config) ([]model.Instrument, error) {
	start, err := cfg.Start()
	if err != nil {
		return nil, err
	}
	end, err := cfg.End()
	if err != nil {
		return nil, err
	}

	if cfg.BarsDB != "" {
		reader, err := sqlitestore.NewReader(cfg.BarsDB)
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return reader.LoadInstruments(start, end)
	}

	return csvfeed.LoadDir(ctx, cfg.DataDir, csvfeed.Options{
		From:        start,
		To:          end,
		AdjustClose: cfg.AdjustClose,
	})
}

func printSummary(res backtest.Result, logFile string) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║              BACKTEST COMPLETE               ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	fmt.Printf("║  Run:             %-26s ║\n", shorten(res.RunID, 26))
	fmt.Printf("║  Period:          %-26s ║\n", res.Start.Format(model.DateLayout)+" .. "+res.End.Format(model.DateLayout))
	fmt.Printf("║  Days / bars:     %-26s ║\n", fmt.Sprintf("%d / %d", res.Steps, res.Bars))
	fmt.Printf("║  Initial value:   %-26s ║\n", res.InitialValue.StringFixed(2))
	fmt.Printf("║  Final value:     %-26s ║\n", res.FinalValue.StringFixed(2))
	fmt.Printf("║  Return:          %-26s ║\n", res.Return().Mul(hundred).StringFixed(2)+"%")
	fmt.Printf("║  Orders filled:   %-26d ║\n", res.Orders[model.StatusCompleted])
	fmt.Println("╠══════════════════════════════════════════════╣")
	for _, name := range sortedKeys(res.RealizedPnL) {
		fmt.Printf("║  %-22s %21s ║\n", name, res.RealizedPnL[name].StringFixed(2))
	}
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Printf("Trade log: %s\n", logFile)
}
