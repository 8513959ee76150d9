package model

import "time"

// DateLayout is the calendar-day format used by bar dates and log lines.
const DateLayout = "2006-01-02"

// Bar is one daily OHLCV row for a single instrument.
type Bar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"` // session date, UTC midnight
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Day returns the bar date formatted as YYYY-MM-DD.
func (b *Bar) Day() string {
	return b.Date.Format(DateLayout)
}
