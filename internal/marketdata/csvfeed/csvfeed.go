// Package csvfeed loads daily bars from Yahoo Finance style CSV files
// (Date,Open,High,Low,Close,Adj Close,Volume), one file per instrument.
package csvfeed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"trading-backtest/internal/model"
)

// ErrNoData is returned when a directory holds no usable CSV file.
var ErrNoData = errors.New("csvfeed: no data")

// ErrDuplicateSymbol is returned when two files in a directory name the same
// instrument, e.g. AAPL.csv and AAPL.2020.csv.
var ErrDuplicateSymbol = errors.New("csvfeed: duplicate symbol")

// Options controls how rows are read.
type Options struct {
	From time.Time // inclusive; zero means unbounded
	To   time.Time // inclusive; zero means unbounded

	// AdjustClose rescales open/high/low/close by Adj Close / Close when the
	// file carries an Adj Close column.
	AdjustClose bool
}

func (o Options) inRange(d time.Time) bool {
	if !o.From.IsZero() && d.Before(o.From) {
		return false
	}
	if !o.To.IsZero() && d.After(o.To) {
		return false
	}
	return true
}

// SymbolFromPath returns the instrument identifier for a CSV path: the file
// name up to its first dot.
func SymbolFromPath(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

// LoadFile reads one CSV file into an Instrument. Rows with missing values
// ("null" in Yahoo exports) are skipped. Bars are returned sorted by date with
// duplicate dates collapsed to the last row seen.
func LoadFile(path string, opts Options) (model.Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Instrument{}, fmt.Errorf("csvfeed open %s: %w", path, err)
	}
	defer f.Close()

	inst, err := Parse(f, SymbolFromPath(path), opts)
	if err != nil {
		return model.Instrument{}, fmt.Errorf("csvfeed %s: %w", path, err)
	}
	return inst, nil
}

type columns struct {
	date, open, high, low, close, adj, volume int
}

func headerColumns(header []string) (columns, error) {
	c := columns{-1, -1, -1, -1, -1, -1, -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "date":
			c.date = i
		case "open":
			c.open = i
		case "high":
			c.high = i
		case "low":
			c.low = i
		case "close":
			c.close = i
		case "adj close", "adj_close", "adjclose":
			c.adj = i
		case "volume":
			c.volume = i
		}
	}
	if c.date < 0 || c.open < 0 || c.high < 0 || c.low < 0 || c.close < 0 {
		return c, fmt.Errorf("header %v lacks date/open/high/low/close", header)
	}
	return c, nil
}

// Parse reads CSV rows from r for symbol.
func Parse(r io.Reader, symbol string, opts Options) (model.Instrument, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return model.Instrument{}, fmt.Errorf("read header: %w", err)
	}
	cols, err := headerColumns(header)
	if err != nil {
		return model.Instrument{}, err
	}

	byDate := make(map[time.Time]model.Bar, 256)
	skipped := 0
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return model.Instrument{}, fmt.Errorf("line %d: %w", line, err)
		}
		bar, ok := parseRow(rec, cols, symbol, opts.AdjustClose)
		if !ok {
			skipped++
			continue
		}
		if !opts.inRange(bar.Date) {
			continue
		}
		byDate[bar.Date] = bar
	}

	bars := make([]model.Bar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	if skipped > 0 {
		log.Printf("[csvfeed] %s: skipped %d incomplete rows", symbol, skipped)
	}
	return model.Instrument{Symbol: symbol, Bars: bars}, nil
}

func parseRow(rec []string, c columns, symbol string, adjust bool) (model.Bar, bool) {
	field := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	num := func(i int) (float64, bool) {
		v, err := strconv.ParseFloat(field(i), 64)
		return v, err == nil
	}

	date, err := time.Parse(model.DateLayout, field(c.date))
	if err != nil {
		return model.Bar{}, false
	}
	open, ok1 := num(c.open)
	high, ok2 := num(c.high)
	low, ok3 := num(c.low)
	closePx, ok4 := num(c.close)
	if !(ok1 && ok2 && ok3 && ok4) {
		return model.Bar{}, false
	}

	if adjust && c.adj >= 0 && closePx != 0 {
		if adj, ok := num(c.adj); ok {
			factor := adj / closePx
			open *= factor
			high *= factor
			low *= factor
			closePx = adj
		}
	}

	var volume int64
	if v, ok := num(c.volume); ok {
		volume = int64(v)
	}

	return model.Bar{
		Symbol: symbol,
		Date:   date,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePx,
		Volume: volume,
	}, true
}

// LoadDir reads every *.csv file in dir concurrently. The result is sorted by
// symbol so that runs are independent of file system order. Instruments with
// no bars in range are dropped. ErrNoData is returned when nothing remains.
// Files mapping to the same symbol fail with ErrDuplicateSymbol.
func LoadDir(ctx context.Context, dir string, opts Options) ([]model.Instrument, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("csvfeed glob %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no csv files in %s", ErrNoData, dir)
	}

	owner := make(map[string]string, len(paths))
	for _, p := range paths {
		sym := SymbolFromPath(p)
		if prev, ok := owner[sym]; ok {
			return nil, fmt.Errorf("%w %s: %s and %s", ErrDuplicateSymbol, sym, filepath.Base(prev), filepath.Base(p))
		}
		owner[sym] = p
	}

	loaded := make([]model.Instrument, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			inst, err := LoadFile(p, opts)
			if err != nil {
				return err
			}
			loaded[i] = inst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := loaded[:0]
	for _, inst := range loaded {
		if inst.Len() == 0 {
			log.Printf("[csvfeed] %s: no bars in range, ignored", inst.Symbol)
			continue
		}
		out = append(out, inst)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no bars in range in %s", ErrNoData, dir)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })

	log.Printf("[csvfeed] loaded %d instruments from %s", len(out), dir)
	return out, nil
}
