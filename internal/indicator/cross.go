package indicator

import "github.com/shopspring/decimal"

// Direction is the outcome of a crossover check on one bar.
type Direction int

const (
	NoCross   Direction = iota
	CrossUp             // at-or-below → strictly above
	CrossDown           // at-or-above → strictly below
)

func (d Direction) String() string {
	switch d {
	case CrossUp:
		return "up"
	case CrossDown:
		return "down"
	}
	return "none"
}

// Cross detects a comparand crossing a reference by watching the spread
// (comparand − reference) from one bar to the next. The first observed spread
// never produces a signal because there is nothing to compare it with.
type Cross struct {
	prev    int // sign of the previous spread
	hasPrev bool
	last    Direction
}

// Observe records the spread for the current bar and returns the crossover
// direction relative to the previous observation.
func (c *Cross) Observe(spread decimal.Decimal) Direction {
	sign := spread.Sign()
	d := NoCross
	if c.hasPrev {
		switch {
		case c.prev <= 0 && sign > 0:
			d = CrossUp
		case c.prev >= 0 && sign < 0:
			d = CrossDown
		}
	}
	c.prev = sign
	c.hasPrev = true
	c.last = d
	return d
}

// Skip marks a bar on which the spread could not be computed. The next
// observation starts a fresh comparison.
func (c *Cross) Skip() {
	c.hasPrev = false
	c.last = NoCross
}

// Last returns the direction produced by the most recent Observe.
func (c *Cross) Last() Direction { return c.last }
