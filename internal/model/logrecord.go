package model

import (
	"encoding/json"
	"time"
)

// RecordKind groups trade-log records.
type RecordKind string

const (
	RecordPortfolio RecordKind = "portfolio" // initial / final value
	RecordOrder     RecordKind = "order"     // lifecycle notifications
	RecordTrade     RecordKind = "trade"     // closed trades
)

// LogRecord is one line of the trade log.
type LogRecord struct {
	Date time.Time  `json:"date"`
	Kind RecordKind `json:"kind"`
	Text string     `json:"text"`
}

// Line renders the record as "YYYY-MM-DD, text".
func (r *LogRecord) Line() string {
	return r.Date.Format(DateLayout) + ", " + r.Text
}

// JSON returns the JSON-encoded record (ignoring errors, all fields are plain).
func (r *LogRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
