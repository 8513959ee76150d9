package indicator

import (
	"github.com/shopspring/decimal"

	"trading-backtest/internal/model"
)

// SMA calculates Simple Moving Average of closes over a rolling window.
// The window and its running sum are held as decimals so the sum never
// drifts: a window of identical closes averages to exactly that close.
type SMA struct {
	period  int
	divisor decimal.Decimal
	buf     []decimal.Decimal // circular buffer
	idx     int               // current write position
	count   int               // total values received
	sum     decimal.Decimal
	current decimal.Decimal
}

// NewSMA creates a new SMA indicator with the given period. period must be ≥ 1.
func NewSMA(period int) *SMA {
	return &SMA{
		period:  period,
		divisor: decimal.NewFromInt(int64(period)),
		buf:     make([]decimal.Decimal, period),
	}
}

func (s *SMA) Update(bar model.Bar) {
	s.Add(decimal.NewFromFloat(bar.Close))
}

// Add feeds a price into the window.
func (s *SMA) Add(price decimal.Decimal) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum = s.sum.Sub(s.buf[s.idx])
	}

	s.buf[s.idx] = price
	s.sum = s.sum.Add(price)
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum.Div(s.divisor)
	}
}

// Value returns the current average, zero until Ready.
func (s *SMA) Value() decimal.Decimal { return s.current }

func (s *SMA) Ready() bool { return s.count >= s.period }
