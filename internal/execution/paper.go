// Package execution simulates order execution for backtests and records the
// outcome of every order in a journal.
package execution

import (
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trading-backtest/internal/model"
)

// PaperBroker simulates a cash account that fills market orders at the open
// of the instrument's next bar. It is driven synchronously by the backtest
// loop: every call returns the lifecycle notifications it produced, in order.
type PaperBroker struct {
	cash      decimal.Decimal
	reserved  decimal.Decimal
	positions map[string]*model.Position
	pending   []*model.Order
	orderSeq  int64

	// Simulation parameters
	slippageBps int64 // basis points of slippage (e.g., 5 = 0.05%)
}

// NewPaperBroker creates a simulator holding cash.
// slippageBps controls simulated slippage in basis points.
func NewPaperBroker(cash decimal.Decimal, slippageBps int64) *PaperBroker {
	return &PaperBroker{
		cash:        cash,
		positions:   make(map[string]*model.Position, 16),
		slippageBps: slippageBps,
	}
}

// Cash returns the cash balance.
func (p *PaperBroker) Cash() decimal.Decimal { return p.cash }

// Available returns cash minus funds reserved for unresolved buys.
func (p *PaperBroker) Available() decimal.Decimal { return p.cash.Sub(p.reserved) }

// Reserve holds back cash for a buy intent until it reaches a terminal state.
func (p *PaperBroker) Reserve(amount decimal.Decimal) {
	p.reserved = p.reserved.Add(amount)
}

// Reserved returns the funds currently held back.
func (p *PaperBroker) Reserved() decimal.Decimal { return p.reserved }

// Value returns cash plus every position marked at its last close.
func (p *PaperBroker) Value() decimal.Decimal {
	v := p.cash
	for _, pos := range p.positions {
		v = v.Add(pos.MarketValue())
	}
	return v
}

// Position returns the aggregate position in symbol.
func (p *PaperBroker) Position(symbol string) model.Position {
	if pos, ok := p.positions[symbol]; ok {
		return *pos
	}
	return model.Position{Symbol: symbol}
}

// Pending returns the number of unresolved orders.
func (p *PaperBroker) Pending() int { return len(p.pending) }

// Mark records the close of bar for valuation.
func (p *PaperBroker) Mark(bar model.Bar) {
	pos, ok := p.positions[bar.Symbol]
	if !ok {
		pos = &model.Position{Symbol: bar.Symbol}
		p.positions[bar.Symbol] = pos
	}
	pos.LastPrice = bar.Close
}

// Submit turns an intent into an order. It returns the Submitted notification
// followed by either Accepted or Rejected. A non-positive size, or a sell
// larger than the aggregate position net of other pending sells, is rejected.
func (p *PaperBroker) Submit(in model.Intent, date time.Time) []model.Order {
	p.orderSeq++
	o := &model.Order{Ref: p.orderSeq, Intent: in, Status: model.StatusSubmitted, Updated: date}
	notes := []model.Order{*o}

	if reason := p.rejectReason(in); reason != "" {
		log.Printf("[paper] reject %d %s %s qty=%d: %s", o.Ref, in.Side, in.Symbol, in.Qty, reason)
		notes = append(notes, p.resolve(o, model.StatusRejected, date))
		return notes
	}

	o.Status = model.StatusAccepted
	p.pending = append(p.pending, o)
	return append(notes, *o)
}

func (p *PaperBroker) rejectReason(in model.Intent) string {
	if in.Qty <= 0 {
		return "non-positive size"
	}
	if in.Side == model.SideSell {
		held := p.Position(in.Symbol).Qty
		for _, o := range p.pending {
			if o.Intent.Symbol == in.Symbol && o.IsSell() {
				held -= o.Intent.Qty
			}
		}
		if in.Qty > held {
			return "sell exceeds position"
		}
	}
	return ""
}

// Match fills pending orders whose instrument has a bar in bars, at the bar's
// open adjusted for slippage. Orders are resolved in submission order. A buy
// costing more than the cash balance resolves as Margin.
func (p *PaperBroker) Match(bars map[string]model.Bar) []model.Order {
	if len(p.pending) == 0 {
		return nil
	}

	var notes []model.Order
	remaining := p.pending[:0]
	for _, o := range p.pending {
		bar, ok := bars[o.Intent.Symbol]
		if !ok {
			remaining = append(remaining, o)
			continue
		}
		notes = append(notes, p.fill(o, bar))
	}
	p.pending = remaining
	return notes
}

func (p *PaperBroker) fill(o *model.Order, bar model.Bar) model.Order {
	price := p.slipped(bar.Open, o.Intent.Side)
	qty := o.Intent.Qty
	value := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty))

	pos, ok := p.positions[o.Intent.Symbol]
	if !ok {
		pos = &model.Position{Symbol: o.Intent.Symbol, LastPrice: bar.Open}
		p.positions[o.Intent.Symbol] = pos
	}

	if o.IsBuy() {
		if value.GreaterThan(p.cash) {
			return p.resolve(o, model.StatusMargin, bar.Date)
		}
		p.cash = p.cash.Sub(value)
		total := pos.AvgPrice*float64(pos.Qty) + price*float64(qty)
		pos.Qty += qty
		pos.AvgPrice = total / float64(pos.Qty)
	} else {
		p.cash = p.cash.Add(value)
		pos.Qty -= qty
		if pos.Qty == 0 {
			pos.AvgPrice = 0
		}
	}

	o.Executed = model.Execution{Price: price, Qty: qty, Value: value}
	return p.resolve(o, model.StatusCompleted, bar.Date)
}

func (p *PaperBroker) slipped(price float64, side model.Side) float64 {
	if p.slippageBps <= 0 {
		return price
	}
	adj := price * float64(p.slippageBps) / 10000
	if side == model.SideBuy {
		return price + adj // buy higher
	}
	return price - adj // sell lower
}

// CancelPending cancels every unresolved order, in submission order.
func (p *PaperBroker) CancelPending(date time.Time) []model.Order {
	notes := make([]model.Order, 0, len(p.pending))
	for _, o := range p.pending {
		notes = append(notes, p.resolve(o, model.StatusCanceled, date))
	}
	p.pending = p.pending[:0]
	return notes
}

// resolve moves o to a terminal status and releases its reservation.
func (p *PaperBroker) resolve(o *model.Order, st model.Status, date time.Time) model.Order {
	o.Status = st
	o.Updated = date
	p.reserved = p.reserved.Sub(o.Intent.Reserved)
	if p.reserved.IsNegative() {
		p.reserved = decimal.Zero
	}
	return *o
}

// Positions returns a snapshot of all non-flat positions sorted by symbol.
func (p *PaperBroker) Positions() []model.Position {
	out := make([]model.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		if pos.Qty != 0 {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
