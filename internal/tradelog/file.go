package tradelog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"trading-backtest/internal/model"
)

// FileSink appends "YYYY-MM-DD, text" lines to a file. Every line is flushed
// as it is written so the file stays in record order even if the run aborts.
type FileSink struct {
	file   *os.File
	writer *bufio.Writer
	closed bool
}

// NewFileSink opens path for appending, creating it and its directory if needed.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("tradelog mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tradelog open %s: %w", path, err)
	}
	return &FileSink{file: f, writer: bufio.NewWriter(f)}, nil
}

func (s *FileSink) Append(rec model.LogRecord) error {
	if s.closed {
		return ErrClosed
	}
	if _, err := s.writer.WriteString(rec.Line() + "\n"); err != nil {
		return fmt.Errorf("tradelog write: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("tradelog flush: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.writer.Flush(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}
