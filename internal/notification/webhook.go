package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"trading-signalbot/internal/logger"
)

// WebhookNotifier POSTs each alert as JSON to an HTTP endpoint:
//
//	{"level":"CRITICAL","title":"ExecutionFailed","message":"...","instrument":"BTCUSD",
//	 "cycle_id":"...","details":{"signal":"BUY"},"ts":"2024-05-01T12:00:00Z"}
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string, log *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger.Component(log, "webhook"),
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(stamp(alert))
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send %s: %w", alert.Title, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s: unexpected status %d", alert.Title, resp.StatusCode)
	}

	w.log.Debug("alert delivered", "title", alert.Title, "instrument", alert.Instrument, "cycle_id", alert.CycleID)
	return nil
}
