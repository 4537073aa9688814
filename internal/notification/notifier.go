// Package notification delivers operator alerts for trading events to the
// log, a generic webhook or Telegram.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"trading-signalbot/internal/logger"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert titles raised by the trading engine.
const (
	EventFeedDiscontinuity = "FeedDiscontinuity"
	EventExecutionFailed   = "ExecutionFailed"
)

// Alert is one operator notification. Instrument and CycleID tie it to the
// recompute cycle that raised it; Details carries event-specific fields
// such as the signal or the failing order.
type Alert struct {
	Level      AlertLevel        `json:"level"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Instrument string            `json:"instrument,omitempty"`
	CycleID    string            `json:"cycle_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	At         time.Time         `json:"ts"`
}

// detailKeys returns the Details keys in a stable order.
func (a Alert) detailKeys() []string {
	keys := make([]string, 0, len(a.Details))
	for k := range a.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stamp(a Alert) Alert {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	return a
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses slog.Default().
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.Component(l, "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	attrs := []any{"alert_level", string(alert.Level), "message", alert.Message}
	if alert.Instrument != "" {
		attrs = append(attrs, "instrument", alert.Instrument)
	}
	if alert.CycleID != "" {
		attrs = append(attrs, "cycle_id", alert.CycleID)
	}
	for _, k := range alert.detailKeys() {
		attrs = append(attrs, k, alert.Details[k])
	}
	n.log.Log(ctx, level, alert.Title, attrs...)
	return nil
}

// Multi fans an alert out to every notifier. All are attempted; failures are joined.
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
