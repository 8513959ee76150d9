// Package indicator computes streaming indicators over bar data.
//
// Indicators receive bars one at a time and keep O(1) streaming state, so a
// value is never recomputed by scanning history.
package indicator

import (
	"sort"

	"github.com/shopspring/decimal"

	"trading-backtest/internal/model"
)

// symbolIndicators holds live SMA instances for one instrument, keyed by period.
type symbolIndicators struct {
	smas map[int]*SMA
}

// Engine maintains one SMA per (instrument, period) pair and is shared by every
// strategy of a run, so a given average is computed once per bar.
// Designed for single-goroutine usage; no locks needed.
type Engine struct {
	periods []int

	// state[symbol] → *symbolIndicators
	state map[string]*symbolIndicators
}

// NewEngine creates an indicator engine computing an SMA for each distinct
// period in periods. Non-positive periods are ignored.
func NewEngine(periods []int) *Engine {
	seen := make(map[int]bool, len(periods))
	uniq := make([]int, 0, len(periods))
	for _, p := range periods {
		if p <= 0 || seen[p] {
			continue
		}
		seen[p] = true
		uniq = append(uniq, p)
	}
	sort.Ints(uniq)
	return &Engine{
		periods: uniq,
		state:   make(map[string]*symbolIndicators, 16),
	}
}

// Periods returns the configured periods in ascending order.
func (e *Engine) Periods() []int {
	out := make([]int, len(e.periods))
	copy(out, e.periods)
	return out
}

// Update feeds a bar to every SMA of its instrument.
func (e *Engine) Update(bar model.Bar) {
	si, ok := e.state[bar.Symbol]
	if !ok {
		// First bar for this instrument: create indicator instances
		si = &symbolIndicators{smas: make(map[int]*SMA, len(e.periods))}
		for _, p := range e.periods {
			si.smas[p] = NewSMA(p)
		}
		e.state[bar.Symbol] = si
	}
	for _, s := range si.smas {
		s.Update(bar)
	}
}

// SMA returns the current average for (symbol, period). ok is false when the
// pair is unknown or the window is not full yet.
func (e *Engine) SMA(symbol string, period int) (value decimal.Decimal, ok bool) {
	si, exists := e.state[symbol]
	if !exists {
		return decimal.Zero, false
	}
	s, exists := si.smas[period]
	if !exists || !s.Ready() {
		return decimal.Zero, false
	}
	return s.Value(), true
}
