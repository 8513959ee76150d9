// Package strategy provides the strategy engine for SMA cross strategies.
//
// An Engine receives bars, decides whether to buy or sell each instrument,
// and reacts to order lifecycle notifications from the simulator by updating
// the position ledger and writing the trade log.
package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"trading-backtest/internal/indicator"
	"trading-backtest/internal/model"
	"trading-backtest/internal/portfolio"
	"trading-backtest/internal/tradelog"
)

// Account is the simulator's cash view used for sizing buys.
type Account interface {
	// Available returns cash not yet committed to unresolved buys.
	Available() decimal.Decimal

	// Reserve commits cash to a buy intent until it resolves.
	Reserve(amount decimal.Decimal)

	// Value returns cash plus positions marked at the last close.
	Value() decimal.Decimal
}

// Params configures an Engine.
type Params struct {
	InvestmentFraction float64 // share of available cash per buy, in (0, 1]
	SellQuantity       int64   // desired units per sell; 0 sells the whole holding
	LogGeneratedOrders bool    // write submitted/accepted notifications
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if math.IsNaN(p.InvestmentFraction) || p.InvestmentFraction <= 0 || p.InvestmentFraction > 1 {
		return fmt.Errorf("investment fraction must be in (0, 1], got %v", p.InvestmentFraction)
	}
	if p.SellQuantity < 0 {
		return fmt.Errorf("sell quantity must be >= 0, got %d", p.SellQuantity)
	}
	return nil
}

// Engine runs one strategy variant over any number of instruments.
// Designed for single-goroutine usage; no locks needed.
type Engine struct {
	name       string
	variant    Variant
	params     Params
	indicators Indicators
	ledger     *Ledger
	account    Account
	sink       tradelog.Sink
	pnl        *portfolio.PnLTracker

	crosses map[string]*indicator.Cross
	pending map[string]bool // symbol → an order is in flight
}

// NewEngine creates an engine for variant. The ledger may be shared with other
// engines; each engine only touches rows keyed by its own name.
func NewEngine(variant Variant, params Params, ind Indicators, ledger *Ledger, acct Account, sink tradelog.Sink) (*Engine, error) {
	if err := variant.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		name:       variant.Name(),
		variant:    variant,
		params:     params,
		indicators: ind,
		ledger:     ledger,
		account:    acct,
		sink:       sink,
		pnl:        portfolio.NewPnLTracker(),
		crosses:    make(map[string]*indicator.Cross, 16),
		pending:    make(map[string]bool, 16),
	}, nil
}

// Name returns the strategy identity.
func (e *Engine) Name() string { return e.name }

// PnL returns the engine's realized P&L tracker.
func (e *Engine) PnL() *portfolio.PnLTracker { return e.pnl }

// ConditionsBuy reports whether the last evaluated bar of symbol was an
// upward cross.
func (e *Engine) ConditionsBuy(symbol string) bool {
	c, ok := e.crosses[symbol]
	return ok && c.Last() == indicator.CrossUp
}

// ConditionsSell reports whether the last evaluated bar of symbol was a
// downward cross.
func (e *Engine) ConditionsSell(symbol string) bool {
	c, ok := e.crosses[symbol]
	return ok && c.Last() == indicator.CrossDown
}

// OnBar evaluates the trigger conditions for bar and returns the order intent
// to submit, or nil. Indicators must already include bar.
//
// Sell is evaluated before buy and at most one intent per instrument is
// emitted per bar. No intent is emitted while an earlier order for the same
// instrument is unresolved.
func (e *Engine) OnBar(bar model.Bar) *model.Intent {
	c, ok := e.crosses[bar.Symbol]
	if !ok {
		c = &indicator.Cross{}
		e.crosses[bar.Symbol] = c
	}

	spread, ready := e.variant.Spread(e.indicators, bar)
	if !ready {
		c.Skip()
		return nil
	}
	c.Observe(spread)

	if e.pending[bar.Symbol] {
		return nil
	}
	held := e.ledger.Held(e.name, bar.Symbol)

	if e.ConditionsSell(bar.Symbol) {
		qty := e.sellQty(held)
		if qty <= 0 {
			return nil
		}
		return e.emit(bar, model.SideSell, qty, decimal.Zero)
	}

	if e.ConditionsBuy(bar.Symbol) && held == 0 {
		qty := e.buyQty(bar.Close)
		if qty <= 0 {
			return nil
		}
		reserved := decimal.NewFromFloat(bar.Close).Mul(decimal.NewFromInt(qty))
		e.account.Reserve(reserved)
		return e.emit(bar, model.SideBuy, qty, reserved)
	}

	return nil
}

// buyQty is floor(available × fraction / price).
func (e *Engine) buyQty(price float64) int64 {
	if price <= 0 {
		return 0
	}
	available := e.account.Available()
	if !available.IsPositive() {
		return 0
	}
	budget := available.Mul(decimal.NewFromFloat(e.params.InvestmentFraction))
	return budget.Div(decimal.NewFromFloat(price)).IntPart()
}

// sellQty is min(desired, held).
func (e *Engine) sellQty(held int64) int64 {
	desired := e.params.SellQuantity
	if desired <= 0 {
		desired = held
	}
	if desired > held {
		return held
	}
	return desired
}

func (e *Engine) emit(bar model.Bar, side model.Side, qty int64, reserved decimal.Decimal) *model.Intent {
	e.pending[bar.Symbol] = true
	return &model.Intent{
		Strategy: e.name,
		Symbol:   bar.Symbol,
		Side:     side,
		Qty:      qty,
		Price:    bar.Close,
		Reserved: reserved,
		Date:     bar.Date,
	}
}

// OnOrderNotify handles a lifecycle notification for one of this engine's
// orders. Only completed fills change the ledger. An error means the trade log
// could not be written or the ledger invariant was violated; the run should stop.
func (e *Engine) OnOrderNotify(o model.Order) error {
	switch o.Status {
	case model.StatusSubmitted, model.StatusAccepted:
		if !e.params.LogGeneratedOrders {
			return nil
		}
		return e.log(o, model.RecordOrder, fmt.Sprintf("%s ORDER %s, STRATEGY: %s, ID: %d, ASSET: %s, PRICE: %.2f, QUANTITY: %d",
			o.Intent.Side, o.Status, e.name, o.Ref, o.Intent.Symbol, o.Intent.Price, o.Intent.Qty))

	case model.StatusCompleted:
		delete(e.pending, o.Intent.Symbol)
		return e.onCompleted(o)

	case model.StatusCanceled, model.StatusMargin, model.StatusRejected:
		delete(e.pending, o.Intent.Symbol)
		if o.IsBuy() {
			return e.log(o, model.RecordOrder, fmt.Sprintf("ORDER %s, STRATEGY: %s, ID: %d, ASSET: %s, RESERVED FUNDS RELEASED: %s",
				o.Status, e.name, o.Ref, o.Intent.Symbol, o.Intent.Reserved.StringFixed(2)))
		}
		return e.log(o, model.RecordOrder, fmt.Sprintf("ORDER %s, STRATEGY: %s, ID: %d, ASSET: %s",
			o.Status, e.name, o.Ref, o.Intent.Symbol))
	}
	return nil
}

func (e *Engine) onCompleted(o model.Order) error {
	sym := o.Intent.Symbol
	ex := o.Executed
	e.pnl.RecordTrade(portfolio.Trade{
		Symbol:    sym,
		Side:      o.Intent.Side,
		Qty:       ex.Qty,
		Price:     ex.Price,
		Timestamp: o.Updated,
	})

	if o.IsBuy() {
		if _, err := e.ledger.Add(e.name, sym, ex.Qty); err != nil {
			return err
		}
		return e.log(o, model.RecordOrder, fmt.Sprintf("BUY EXECUTED, STRATEGY: %s, ID: %d, ASSET: %s, PRICE: %.2f, COST: %s, QUANTITY: %d, %.2f%% OF PORTFOLIO USED",
			e.name, o.Ref, sym, ex.Price, ex.Value.StringFixed(2), ex.Qty, e.params.InvestmentFraction*100))
	}

	held, err := e.ledger.Add(e.name, sym, -ex.Qty)
	if err != nil {
		return err
	}
	if err := e.log(o, model.RecordOrder, fmt.Sprintf("SELL EXECUTED, STRATEGY: %s, ID: %d, ASSET: %s, PRICE: %.2f, VALUE: %s, QUANTITY: %d",
		e.name, o.Ref, sym, ex.Price, ex.Value.StringFixed(2), ex.Qty)); err != nil {
		return err
	}
	if held > 0 {
		return nil
	}
	return e.log(o, model.RecordTrade, fmt.Sprintf("TRADE CLOSED, STRATEGY: %s, ASSET: %s, PNL: %s, PORTFOLIO VALUE: %s",
		e.name, sym, e.pnl.RoundTripPnL(sym).StringFixed(2), e.account.Value().StringFixed(2)))
}

func (e *Engine) log(o model.Order, kind model.RecordKind, text string) error {
	return e.sink.Append(model.LogRecord{Date: o.Updated, Kind: kind, Text: text})
}
