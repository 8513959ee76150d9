// Package notification delivers run summaries and failures to external
// channels (Telegram, webhooks) once a backtest ends.
package notification

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	RunID   string            `json:"run_id,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Body renders Message followed by the fields as sorted "key: value" lines.
func (a Alert) Body() string {
	if len(a.Fields) == 0 {
		return a.Message
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(a.Message)
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(a.Fields[k])
	}
	return b.String()
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, strings.ReplaceAll(alert.Body(), "\n", "; "))
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
