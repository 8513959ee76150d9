package tradelog

import "trading-backtest/internal/model"

// MemorySink keeps records in memory.
type MemorySink struct {
	records []model.LogRecord
	closed  bool
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Append(rec model.LogRecord) error {
	if m.closed {
		return ErrClosed
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemorySink) Close() error {
	m.closed = true
	return nil
}

// Records returns a copy of everything appended so far.
func (m *MemorySink) Records() []model.LogRecord {
	cp := make([]model.LogRecord, len(m.records))
	copy(cp, m.records)
	return cp
}

// Lines renders the records as log lines.
func (m *MemorySink) Lines() []string {
	out := make([]string, len(m.records))
	for i := range m.records {
		out[i] = m.records[i].Line()
	}
	return out
}
