package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// webhookPayload is the JSON body posted for every alert.
type webhookPayload struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	RunID   string            `json:"run_id,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	SentAt  string            `json:"ts"`
}

// WebhookNotifier POSTs run alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	err := postJSON(ctx, w.client, w.url, webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		RunID:   alert.RunID,
		Fields:  alert.Fields,
		SentAt:  w.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	log.Printf("[webhook] run %s: %s", alert.RunID, alert.Title)
	return nil
}

// postJSON encodes v and POSTs it to url. Any non-2xx status is an error.
func postJSON(ctx context.Context, client *http.Client, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
