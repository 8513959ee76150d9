package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"trading-backtest/internal/model"
)

// Journal persists terminal orders to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL,
		order_ref   INTEGER NOT NULL,
		strategy    TEXT NOT NULL,
		side        TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		price       REAL NOT NULL,
		status      TEXT NOT NULL,
		fill_qty    INTEGER DEFAULT 0,
		fill_price  REAL DEFAULT 0,
		fill_value  TEXT DEFAULT '0',
		created_on  TEXT NOT NULL,
		resolved_on TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_run ON orders(run_id);
	CREATE INDEX IF NOT EXISTS idx_orders_strategy ON orders(strategy, symbol);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened order journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// DB returns the journal database for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// RecordOrder persists a terminal order under runID.
func (j *Journal) RecordOrder(ctx context.Context, runID string, o model.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO orders (run_id, order_ref, strategy, side, symbol, qty, price, status,
			fill_qty, fill_price, fill_value, created_on, resolved_on)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		o.Ref,
		o.Intent.Strategy,
		string(o.Intent.Side),
		o.Intent.Symbol,
		o.Intent.Qty,
		o.Intent.Price,
		string(o.Status),
		o.Executed.Qty,
		o.Executed.Price,
		o.Executed.Value.String(),
		o.Intent.Date.Format(model.DateLayout),
		o.Updated.Format(model.DateLayout),
	)
	if err != nil {
		return fmt.Errorf("journal insert order %d: %w", o.Ref, err)
	}
	return nil
}

// OrderRecord represents a row from the orders table.
type OrderRecord struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	OrderRef   int64   `json:"order_ref"`
	Strategy   string  `json:"strategy"`
	Side       string  `json:"side"`
	Symbol     string  `json:"symbol"`
	Qty        int64   `json:"qty"`
	Price      float64 `json:"price"`
	Status     string  `json:"status"`
	FillQty    int64   `json:"fill_qty"`
	FillPrice  float64 `json:"fill_price"`
	FillValue  string  `json:"fill_value"`
	CreatedOn  string  `json:"created_on"`
	ResolvedOn string  `json:"resolved_on"`
}

// GetOrders returns the orders of a run in the order they were recorded.
func (j *Journal) GetOrders(ctx context.Context, runID string) ([]OrderRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, order_ref, strategy, side, symbol, qty, price, status,
			fill_qty, fill_price, fill_value, created_on, resolved_on
		 FROM orders WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var r OrderRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.OrderRef, &r.Strategy, &r.Side, &r.Symbol,
			&r.Qty, &r.Price, &r.Status, &r.FillQty, &r.FillPrice, &r.FillValue,
			&r.CreatedOn, &r.ResolvedOn); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
