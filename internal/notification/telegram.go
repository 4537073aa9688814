package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"trading-signalbot/internal/logger"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts through the Telegram Bot API as MarkdownV2
// messages.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	log      *slog.Logger
}

// NewTelegramNotifier creates a Telegram notifier for the bot token and
// target chat.
func NewTelegramNotifier(botToken, chatID string, log *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      logger.Component(log, "telegram"),
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       formatTelegram(alert),
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send %s: %w", alert.Title, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: %s: unexpected status %d", alert.Title, resp.StatusCode)
	}

	t.log.Debug("alert delivered", "title", alert.Title, "instrument", alert.Instrument, "cycle_id", alert.CycleID)
	return nil
}

// formatTelegram renders an alert as:
//
//	🚨 *ExecutionFailed* · BTCUSD
//
//	message
//
//	signal: `BUY`
//	cycle: `…`
func formatTelegram(a Alert) string {
	emoji := "ℹ️"
	switch a.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*", emoji, escapeMarkdown(a.Title))
	if a.Instrument != "" {
		fmt.Fprintf(&b, " · %s", escapeMarkdown(a.Instrument))
	}
	if a.Message != "" {
		fmt.Fprintf(&b, "\n\n%s", escapeMarkdown(a.Message))
	}
	if len(a.Details) > 0 || a.CycleID != "" {
		b.WriteString("\n")
	}
	for _, k := range a.detailKeys() {
		fmt.Fprintf(&b, "\n%s: `%s`", escapeMarkdown(k), escapeCode(a.Details[k]))
	}
	if a.CycleID != "" {
		fmt.Fprintf(&b, "\ncycle: `%s`", escapeCode(a.CycleID))
	}
	return b.String()
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}

// escapeCode escapes text inside a MarkdownV2 code span.
func escapeCode(s string) string {
	return strings.NewReplacer(`\`, `\\`, "`", "\\`").Replace(s)
}
