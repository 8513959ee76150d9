package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-backtest/internal/model"
)

// Kind tags one of the supported strategy variants.
type Kind int

const (
	// KindPriceCross trades the close crossing its own SMA.
	KindPriceCross Kind = iota + 1
	// KindGoldenCross trades a short SMA crossing a long SMA.
	KindGoldenCross
)

func (k Kind) String() string {
	switch k {
	case KindPriceCross:
		return "cross_sma"
	case KindGoldenCross:
		return "golden_cross"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Indicators is the read-only indicator view a variant needs.
type Indicators interface {
	SMA(symbol string, period int) (value decimal.Decimal, ok bool)
}

// Variant selects the comparand and reference whose crossing drives a
// strategy. Both variants share the same buy/sell rule: buy on an upward
// cross of (comparand − reference), sell on a downward cross.
type Variant struct {
	Kind        Kind
	Period      int // KindPriceCross
	ShortPeriod int // KindGoldenCross
	LongPeriod  int // KindGoldenCross
}

// PriceCross returns a close-vs-SMA(period) variant.
func PriceCross(period int) Variant {
	return Variant{Kind: KindPriceCross, Period: period}
}

// GoldenCross returns a SMA(short)-vs-SMA(long) variant.
func GoldenCross(short, long int) Variant {
	return Variant{Kind: KindGoldenCross, ShortPeriod: short, LongPeriod: long}
}

// Name identifies the strategy in the ledger and in log lines,
// e.g. "cross_sma_10" or "golden_cross_10_30".
func (v Variant) Name() string {
	switch v.Kind {
	case KindPriceCross:
		return fmt.Sprintf("%s_%d", v.Kind, v.Period)
	case KindGoldenCross:
		return fmt.Sprintf("%s_%d_%d", v.Kind, v.ShortPeriod, v.LongPeriod)
	}
	return v.Kind.String()
}

// Periods lists the SMA periods the variant reads.
func (v Variant) Periods() []int {
	switch v.Kind {
	case KindPriceCross:
		return []int{v.Period}
	case KindGoldenCross:
		return []int{v.ShortPeriod, v.LongPeriod}
	}
	return nil
}

// Validate checks the variant's periods.
func (v Variant) Validate() error {
	switch v.Kind {
	case KindPriceCross:
		if v.Period < 1 {
			return fmt.Errorf("%s: period must be >= 1, got %d", v.Kind, v.Period)
		}
	case KindGoldenCross:
		if v.ShortPeriod < 1 || v.LongPeriod < 1 {
			return fmt.Errorf("%s: periods must be >= 1, got %d/%d", v.Kind, v.ShortPeriod, v.LongPeriod)
		}
		if v.ShortPeriod >= v.LongPeriod {
			return fmt.Errorf("%s: short period %d must be below long period %d", v.Kind, v.ShortPeriod, v.LongPeriod)
		}
	default:
		return fmt.Errorf("unknown strategy kind %d", int(v.Kind))
	}
	return nil
}

// Spread returns comparand − reference for bar. ok is false while any
// indicator the variant depends on is not ready. The spread is exact, so a
// close equal to its average yields exactly zero.
func (v Variant) Spread(ind Indicators, bar model.Bar) (decimal.Decimal, bool) {
	switch v.Kind {
	case KindPriceCross:
		sma, ok := ind.SMA(bar.Symbol, v.Period)
		if !ok {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(bar.Close).Sub(sma), true
	case KindGoldenCross:
		short, ok := ind.SMA(bar.Symbol, v.ShortPeriod)
		if !ok {
			return decimal.Zero, false
		}
		long, ok := ind.SMA(bar.Symbol, v.LongPeriod)
		if !ok {
			return decimal.Zero, false
		}
		return short.Sub(long), true
	}
	return decimal.Zero, false
}
