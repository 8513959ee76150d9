package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends run alerts to one chat via the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier posting to chatID.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	err := postJSON(ctx, t.client, url, telegramMessage{
		ChatID:    t.chatID,
		Text:      telegramText(alert),
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	log.Printf("[telegram] run %s: %s", alert.RunID, alert.Title)
	return nil
}

// telegramText renders the alert as MarkdownV2: bold title, escaped body and
// the run id in italics.
func telegramText(alert Alert) string {
	prefix := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		prefix = "⚠️"
	case AlertCritical:
		prefix = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n%s", prefix, escapeMarkdown(alert.Title), escapeMarkdown(alert.Body()))
	if alert.RunID != "" {
		b.WriteString("\n\n_run ")
		b.WriteString(escapeMarkdown(alert.RunID))
		b.WriteString("_")
	}
	return b.String()
}

const markdownSpecials = "_*[]()~`>#+-=|{}.!"

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(markdownSpecials, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
