package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestInitWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := InitWriter(&buf, "backtest", slog.LevelWarn)

	l.Info("dropped")
	l.Warn("kept", slog.Int("n", 1))

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "backtest" || line["msg"] != "kept" {
		t.Errorf("unexpected line %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := RunID(ctx); id != "" {
		t.Errorf("expected empty run id, got %q", id)
	}

	ctx = WithRunID(ctx, "run-123")
	if id := RunID(ctx); id != "run-123" {
		t.Errorf("expected 'run-123', got %q", id)
	}
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Error("expected distinct run ids")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("run id %q is not a UUID: %v", a, err)
	}
}

func TestLogWithRun(t *testing.T) {
	ctx := context.Background()

	if attrs := LogWithRun(ctx); attrs != nil {
		t.Errorf("expected nil attrs when no run id, got %v", attrs)
	}

	ctx = WithRunID(ctx, "abc-123")
	if attrs := LogWithRun(ctx); len(attrs) != 1 {
		t.Fatalf("expected one attr with run id set, got %v", attrs)
	}
}
