package strategy

import (
	"fmt"
	"sort"
)

// LedgerKey identifies a ledger row.
type LedgerKey struct {
	Strategy string
	Symbol   string
}

// LedgerEntry is one row of a ledger snapshot.
type LedgerEntry struct {
	LedgerKey
	Qty int64
}

// Ledger records, per (strategy, instrument), the quantity that strategy
// bought and still holds. It bounds sell sizes so a strategy never sells
// units it did not buy. Rows are created at zero on first reference and are
// never removed. Only Engine.OnOrderNotify mutates it, on completed fills.
type Ledger struct {
	rows map[LedgerKey]int64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{rows: make(map[LedgerKey]int64)}
}

// Held returns the quantity held by strategy in symbol.
func (l *Ledger) Held(strategy, symbol string) int64 {
	k := LedgerKey{Strategy: strategy, Symbol: symbol}
	q, ok := l.rows[k]
	if !ok {
		l.rows[k] = 0
	}
	return q
}

// Add applies a filled quantity (negative for sells) and returns the new
// holding. A change that would leave the holding negative is refused.
func (l *Ledger) Add(strategy, symbol string, delta int64) (int64, error) {
	k := LedgerKey{Strategy: strategy, Symbol: symbol}
	next := l.rows[k] + delta
	if next < 0 {
		return l.rows[k], fmt.Errorf("ledger %s/%s: fill of %d exceeds holding %d", strategy, symbol, delta, l.rows[k])
	}
	l.rows[k] = next
	return next, nil
}

// Entries returns every row sorted by strategy then symbol.
func (l *Ledger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, 0, len(l.rows))
	for k, q := range l.rows {
		out = append(out, LedgerEntry{LedgerKey: k, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strategy != out[j].Strategy {
			return out[i].Strategy < out[j].Strategy
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
