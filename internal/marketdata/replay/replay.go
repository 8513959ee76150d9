// Package replay merges per-instrument bar histories into a single dated
// timeline for the backtest loop.
package replay

import (
	"context"
	"sort"
	"time"

	"trading-backtest/internal/model"
)

// Step is one calendar day of the replay: every instrument that has a bar on
// Date, sorted by symbol.
type Step struct {
	Date time.Time
	Bars []model.Bar
}

// BySymbol returns the step's bars keyed by symbol.
func (s Step) BySymbol() map[string]model.Bar {
	m := make(map[string]model.Bar, len(s.Bars))
	for _, b := range s.Bars {
		m[b.Symbol] = b
	}
	return m
}

// Timeline merges instruments into steps ordered by date. Instruments may
// have gaps; a step only carries the bars that exist on its date.
func Timeline(instruments []model.Instrument) []Step {
	byDate := make(map[time.Time][]model.Bar, 256)
	for _, inst := range instruments {
		for _, b := range inst.Bars {
			if b.Symbol == "" {
				b.Symbol = inst.Symbol
			}
			byDate[b.Date] = append(byDate[b.Date], b)
		}
	}

	steps := make([]Step, 0, len(byDate))
	for d, bars := range byDate {
		sort.Slice(bars, func(i, j int) bool { return bars[i].Symbol < bars[j].Symbol })
		steps = append(steps, Step{Date: d, Bars: bars})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Date.Before(steps[j].Date) })
	return steps
}

// Run calls fn for every step in order. It stops at the first error or when
// ctx is cancelled.
func Run(ctx context.Context, steps []Step, fn func(Step) error) error {
	for _, s := range steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}
