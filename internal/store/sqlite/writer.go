// Package sqlite stores daily bars in SQLite so backtests can read a
// prepared dataset instead of parsing CSV files on every run.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-backtest/internal/model"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars_1d (
			symbol TEXT    NOT NULL,
			day    TEXT    NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume INTEGER,
			PRIMARY KEY (symbol, day)
		);
	`)
	return err
}

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed, and returns the number of
// bars committed together with the first insert error.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.Bar) (int, error) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	committed := 0
	var firstErr error
	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.InsertBars(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			committed += len(batch)
			log.Printf("[sqlite] committed %d bars in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return committed, firstErr

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return committed, firstErr
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// InsertBars inserts bars in a single transaction, replacing existing rows
// for the same symbol and day.
func (w *Writer) InsertBars(bars []model.Bar) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars_1d (symbol, day, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.Exec(b.Symbol, b.Day(), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s %s: %w", b.Symbol, b.Day(), err)
		}
	}

	return tx.Commit()
}

// GetLastDay returns the last stored day for symbol, or "" when none exist.
func (w *Writer) GetLastDay(symbol string) (string, error) {
	var day sql.NullString
	err := w.db.QueryRow(`SELECT MAX(day) FROM bars_1d WHERE symbol = ?`, symbol).Scan(&day)
	if err != nil {
		return "", err
	}
	if !day.Valid {
		return "", nil
	}
	return day.String, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
