// Package notification delivers trading alerts to external sinks:
// Telegram, generic webhooks, or the log. A Dispatcher watches the bus
// for triggered signals, execution reports, and portfolio risk warnings
// and fans the resulting alerts out to every configured sink.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert is one notification to deliver.
type Alert struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

// Notifier delivers alerts to one sink.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log. Used in development
// and as the fallback when no external sink is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-backed sink.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notify")}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	n.log.Info("alert", "level", string(alert.Level), "title", alert.Title, "message", alert.Message)
	return nil
}

// rupees renders a paise amount for human-facing alert text.
func rupees(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	return fmt.Sprintf("%s%d.%02d", sign, paise/100, paise%100)
}
