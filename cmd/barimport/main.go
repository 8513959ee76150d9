// cmd/barimport loads Yahoo-format CSV files into the SQLite bar store so that
// backtests can read bars with --db instead of parsing CSV on every run.
//
// Usage:
//
//	go run ./cmd/barimport --data=data --db=data/bars.db
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trading-backtest/internal/marketdata/csvfeed"
	"trading-backtest/internal/model"
	sqlitestore "trading-backtest/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dataDir := flag.String("data", "data", "Directory of Yahoo-format CSV files")
	dbPath := flag.String("db", "data/bars.db", "SQLite bar store to write")
	from := flag.String("from", "", "Skip bars before this day (YYYY-MM-DD)")
	to := flag.String("to", "", "Skip bars after this day (YYYY-MM-DD)")
	adjust := flag.Bool("adjust", true, "Rescale prices by Adj Close")
	resume := flag.Bool("resume", true, "Skip days already stored for each symbol")
	flag.Parse()

	opts := csvfeed.Options{AdjustClose: *adjust}
	var err error
	if opts.From, err = parseDay(*from); err != nil {
		log.Fatalf("[barimport] --from: %v", err)
	}
	if opts.To, err = parseDay(*to); err != nil {
		log.Fatalf("[barimport] --to: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[barimport] %v", err)
	}
	defer writer.Close()

	n, symbols, err := importDir(ctx, *dataDir, opts, writer, *resume)
	if err != nil {
		log.Fatalf("[barimport] %v", err)
	}
	fmt.Printf("Imported %d bars for %d instruments into %s\n", n, symbols, *dbPath)
}

// importDir streams every bar found in dir into w. With resume set, bars on
// or before the last day already stored for their symbol are skipped.
func importDir(ctx context.Context, dir string, opts csvfeed.Options, w *sqlitestore.Writer, resume bool) (int, int, error) {
	instruments, err := csvfeed.LoadDir(ctx, dir, opts)
	if err != nil {
		return 0, 0, err
	}

	lastDay := make(map[string]string, len(instruments))
	if resume {
		for _, inst := range instruments {
			last, err := w.GetLastDay(inst.Symbol)
			if err != nil {
				return 0, 0, fmt.Errorf("last stored day for %s: %w", inst.Symbol, err)
			}
			if last != "" {
				log.Printf("[barimport] %s: resuming after %s", inst.Symbol, last)
			}
			lastDay[inst.Symbol] = last
		}
	}

	barCh := make(chan model.Bar, 1024)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(barCh)
		for _, inst := range instruments {
			last := lastDay[inst.Symbol]
			for _, b := range inst.Bars {
				if last != "" && b.Day() <= last {
					continue
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case barCh <- b:
				}
			}
		}
		return nil
	})

	var committed int
	g.Go(func() error {
		var err error
		committed, err = w.Run(gctx, barCh)
		return err
	})

	if err := g.Wait(); err != nil {
		return committed, len(instruments), err
	}
	return committed, len(instruments), nil
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(model.DateLayout, s)
}
