// Package portfolio tracks cost basis and realized P&L for the fills of a
// single strategy.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"trading-backtest/internal/model"
)

// Trade represents a completed fill for P&L calculation.
type Trade struct {
	Symbol    string     `json:"symbol"`
	Side      model.Side `json:"side"`
	Qty       int64      `json:"qty"`
	Price     float64    `json:"price"`
	Timestamp time.Time  `json:"timestamp"`
}

// PnLTracker tracks realized P&L with an average-cost basis per instrument.
// Not safe for concurrent use; each strategy engine owns one.
type PnLTracker struct {
	trades []Trade

	// Realized P&L from closed quantity
	realizedPnL decimal.Decimal

	// Per-symbol cost basis
	costBasis map[string]costEntry
}

type costEntry struct {
	Qty      int64
	AvgPrice decimal.Decimal
	Realized decimal.Decimal // realized since the position was last flat
}

// NewPnLTracker creates a new P&L tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		trades:    make([]Trade, 0, 64),
		costBasis: make(map[string]costEntry),
	}
}

// RecordTrade records a fill and returns the P&L realized by it (zero for buys).
func (p *PnLTracker) RecordTrade(trade Trade) decimal.Decimal {
	p.trades = append(p.trades, trade)
	entry := p.costBasis[trade.Symbol]
	price := decimal.NewFromFloat(trade.Price)
	qty := decimal.NewFromInt(trade.Qty)

	realized := decimal.Zero

	if trade.Side == model.SideBuy {
		if entry.Qty == 0 {
			entry.Qty = trade.Qty
			entry.AvgPrice = price
			entry.Realized = decimal.Zero
		} else {
			// Weighted average price
			totalCost := entry.AvgPrice.Mul(decimal.NewFromInt(entry.Qty)).Add(price.Mul(qty))
			entry.Qty += trade.Qty
			entry.AvgPrice = totalCost.Div(decimal.NewFromInt(entry.Qty))
		}
	} else {
		// Reduce position and realize P&L
		sellQty := trade.Qty
		if sellQty > entry.Qty {
			sellQty = entry.Qty
		}
		realized = price.Sub(entry.AvgPrice).Mul(decimal.NewFromInt(sellQty))
		entry.Qty -= sellQty
		entry.Realized = entry.Realized.Add(realized)
		if entry.Qty <= 0 {
			entry.Qty = 0
			entry.AvgPrice = decimal.Zero
		}
		p.realizedPnL = p.realizedPnL.Add(realized)
	}

	p.costBasis[trade.Symbol] = entry
	return realized
}

// RoundTripPnL returns the P&L realized on symbol since its position last
// opened from flat. Once the position is flat again it is the P&L of the
// whole closed trade.
func (p *PnLTracker) RoundTripPnL(symbol string) decimal.Decimal {
	return p.costBasis[symbol].Realized
}

// GetRealizedPnL returns total realized P&L.
func (p *PnLTracker) GetRealizedPnL() decimal.Decimal {
	return p.realizedPnL
}

// GetTrades returns a snapshot of all trades.
func (p *PnLTracker) GetTrades() []Trade {
	cp := make([]Trade, len(p.trades))
	copy(cp, p.trades)
	return cp
}
