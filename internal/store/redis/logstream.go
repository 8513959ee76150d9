// Package redis mirrors the trade log to a Redis stream so that a run can be
// followed from another process while it executes.
package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-backtest/internal/model"
	"trading-backtest/internal/tradelog"
)

const (
	defaultStreamMaxLen = 100000
	defaultWriteTimeout = 2 * time.Second
	defaultMaxBuffered  = 10000
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string // stream key prefix, e.g. "backtest"
}

// xadder is the subset of the Redis client used by LogStream.
type xadder interface {
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
}

// StreamKey returns the stream holding the trade log of runID.
func StreamKey(prefix, runID string) string {
	if prefix == "" {
		prefix = "backtest"
	}
	return prefix + ":" + runID + ":log"
}

// LogStream is a trade-log sink that XADDs every record to a Redis stream.
// Writes go through a circuit breaker. While the breaker is open, records are
// buffered locally (oldest dropped past the limit) and flushed, in order,
// with the next successful write. Redis failures are logged, not returned:
// the stream is a mirror of the authoritative file log.
type LogStream struct {
	client xadder
	closer func() error
	key    string
	cb     *CircuitBreaker

	mu      sync.Mutex
	buffer  []model.LogRecord
	maxBuf  int
	dropped int
	closed  bool
}

// Dial connects to Redis, pings it and returns a LogStream for runID.
func Dial(ctx context.Context, cfg Config, runID string) (*LogStream, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ls := newLogStream(client, StreamKey(cfg.Prefix, runID))
	ls.closer = client.Close
	log.Printf("[redis] connected to %s, streaming trade log to %s", cfg.Addr, ls.key)
	return ls, nil
}

func newLogStream(client xadder, key string) *LogStream {
	cb := NewCircuitBreaker(3, 5*time.Second)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit %s -> %s for %s", from, to, key)
	}
	return &LogStream{
		client: client,
		key:    key,
		cb:     cb,
		buffer: make([]model.LogRecord, 0, 64),
		maxBuf: defaultMaxBuffered,
	}
}

// Key returns the stream key.
func (s *LogStream) Key() string { return s.key }

// Buffered returns the number of records waiting for Redis to recover.
func (s *LogStream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Dropped returns the number of records discarded because the buffer was full.
func (s *LogStream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Append queues rec and flushes the queue through the circuit breaker.
func (s *LogStream) Append(rec model.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("redis log stream %s: %w", s.key, tradelog.ErrClosed)
	}

	if len(s.buffer) >= s.maxBuf {
		s.buffer = s.buffer[1:]
		s.dropped++
	}
	s.buffer = append(s.buffer, rec)
	s.flushLocked()
	return nil
}

func (s *LogStream) flushLocked() {
	for len(s.buffer) > 0 {
		rec := s.buffer[0]
		err := s.cb.Execute(func() error { return s.xadd(rec) })
		if err != nil {
			if err != ErrCircuitOpen {
				log.Printf("[redis] XADD %s error: %v", s.key, err)
			}
			return
		}
		s.buffer = s.buffer[1:]
	}
}

func (s *LogStream) xadd(rec model.LogRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	return s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.key,
		MaxLen: defaultStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"date": rec.Date.Format(model.DateLayout),
			"kind": string(rec.Kind),
			"text": rec.Text,
			"data": string(rec.JSON()),
		},
	}).Err()
}

// Close makes a last flush attempt and closes the connection.
func (s *LogStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.flushLocked()
	if n := len(s.buffer); n > 0 {
		log.Printf("[redis] %d trade-log records not delivered to %s", n, s.key)
	}
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
