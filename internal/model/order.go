package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status is an order lifecycle tag.
//
//	Created → Submitted → Accepted → Completed
//	                    ↘ Canceled | Margin | Rejected
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusSubmitted Status = "SUBMITTED"
	StatusAccepted  Status = "ACCEPTED"
	StatusCompleted Status = "COMPLETED"
	StatusCanceled  Status = "CANCELED"
	StatusMargin    Status = "MARGIN"
	StatusRejected  Status = "REJECTED"
)

// Terminal reports whether no further transitions follow this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusMargin, StatusRejected:
		return true
	}
	return false
}

// Intent is an order request produced by a strategy before the simulator
// has assigned it a reference.
type Intent struct {
	Strategy string          `json:"strategy"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Qty      int64           `json:"qty"`
	Price    float64         `json:"price"`    // close of the bar that triggered it
	Reserved decimal.Decimal `json:"reserved"` // cash held back for a buy until it resolves
	Date     time.Time       `json:"date"`
}

// Execution describes the fill of a completed order.
type Execution struct {
	Price float64         `json:"price"`
	Qty   int64           `json:"qty"`
	Value decimal.Decimal `json:"value"` // price × qty
}

// Order is an intent tracked by the simulator. Every lifecycle notification
// carries a copy of the order with Status set to the new state.
type Order struct {
	Ref      int64     `json:"ref"`
	Intent   Intent    `json:"intent"`
	Status   Status    `json:"status"`
	Executed Execution `json:"executed"`
	Updated  time.Time `json:"updated"` // date of the bar on which Status was reached
}

// IsBuy reports whether the order buys.
func (o *Order) IsBuy() bool { return o.Intent.Side == SideBuy }

// IsSell reports whether the order sells.
func (o *Order) IsSell() bool { return o.Intent.Side == SideSell }
