package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-backtest/internal/model"
)

// Reader provides read-only access to the bar store.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// Symbols returns every stored symbol in ascending order.
func (r *Reader) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM bars_1d ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("sqlite scan symbol: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadBars reads the bars of symbol with from <= day <= to, ordered by day.
// Zero bounds are unbounded.
func (r *Reader) ReadBars(symbol string, from, to time.Time) ([]model.Bar, error) {
	lo, hi := "0000-00-00", "9999-99-99"
	if !from.IsZero() {
		lo = from.Format(model.DateLayout)
	}
	if !to.IsZero() {
		hi = to.Format(model.DateLayout)
	}

	rows, err := r.db.Query(`
		SELECT symbol, day, open, high, low, close, COALESCE(volume, 0)
		FROM bars_1d
		WHERE symbol = ? AND day >= ? AND day <= ?
		ORDER BY day ASC
	`, symbol, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars_1d: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var day string
		if err := rows.Scan(&b.Symbol, &day, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars_1d: %w", err)
		}
		b.Date, err = time.Parse(model.DateLayout, day)
		if err != nil {
			return nil, fmt.Errorf("sqlite bad day %q for %s: %w", day, b.Symbol, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LoadInstruments reads every stored symbol restricted to [from, to].
// Symbols without bars in range are omitted. The result is sorted by symbol.
func (r *Reader) LoadInstruments(from, to time.Time) ([]model.Instrument, error) {
	symbols, err := r.Symbols()
	if err != nil {
		return nil, err
	}

	out := make([]model.Instrument, 0, len(symbols))
	for _, s := range symbols {
		bars, err := r.ReadBars(s, from, to)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			continue
		}
		out = append(out, model.Instrument{Symbol: s, Bars: bars})
	}
	log.Printf("[sqlite-reader] loaded %d instruments", len(out))
	return out, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
