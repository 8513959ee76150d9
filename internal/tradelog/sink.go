// Package tradelog writes the append-only trade log produced by a backtest run.
//
// A Sink receives LogRecords in the order they are produced. Sinks are used
// from the single goroutine that drives the run and are not safe for
// concurrent use unless stated otherwise.
package tradelog

import (
	"errors"

	"trading-backtest/internal/model"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("tradelog: sink closed")

// Sink consumes trade-log records.
type Sink interface {
	// Append writes one record.
	Append(rec model.LogRecord) error

	// Close flushes and releases underlying resources.
	Close() error
}

// Tee fans every record out to several sinks in order. The first failing sink
// stops the append and its error is returned.
type Tee []Sink

func (t Tee) Append(rec model.LogRecord) error {
	for _, s := range t {
		if err := s.Append(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns the first error.
func (t Tee) Close() error {
	var first error
	for _, s := range t {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
