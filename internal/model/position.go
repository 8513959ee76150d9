package model

import "github.com/shopspring/decimal"

// Position is the simulator's aggregate holding of one instrument across all
// strategies.
type Position struct {
	Symbol    string  `json:"symbol"`
	Qty       int64   `json:"qty"`
	AvgPrice  float64 `json:"avg_price"`
	LastPrice float64 `json:"last_price"` // latest close seen
}

// MarketValue returns qty × last price.
func (p *Position) MarketValue() decimal.Decimal {
	return decimal.NewFromFloat(p.LastPrice).Mul(decimal.NewFromInt(p.Qty))
}

// UnrealizedPnL returns (last − avg) × qty.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return decimal.NewFromFloat(p.LastPrice - p.AvgPrice).Mul(decimal.NewFromInt(p.Qty))
}
