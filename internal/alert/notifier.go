// Package alert turns triggered signals into outbound notifications,
// deduplicating so each (rule, data point) notifies at most once per
// process lifetime.
package alert

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"signalwatch/internal/model"
)

// Notification is one outbound alert message.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers a notification. Returns error if delivery fails.
	Send(ctx context.Context, n Notification) error
}

// LogNotifier logs notifications instead of sending them
// (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, msg Notification) error {
	n.log.Info("alert", slog.String("title", msg.Title), slog.String("message", msg.Message))
	return nil
}

// Format renders the human-readable summary for a triggered signal:
// rule name, action, matched conditions, price and timestamp.
func Format(sig model.TriggeredSignal) Notification {
	var b strings.Builder
	b.WriteString(string(sig.Action))
	b.WriteString(" signal from rule ")
	b.WriteString(sig.RuleName)
	b.WriteString(" at ")
	b.WriteString(sig.TS.UTC().Format("2006-01-02 15:04:05"))
	if sig.Price != 0 {
		b.WriteString(", price ")
		b.WriteString(formatFloat(sig.Price))
	}
	if len(sig.Matched) > 0 {
		b.WriteString("\nmatched: ")
		for i, c := range sig.Matched {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(c.IndicatorKey)
			b.WriteString(" ")
			b.WriteString(string(c.Operator))
			if c.Operator == model.OpBetween {
				b.WriteString(" [")
				b.WriteString(formatFloat(c.Operand))
				b.WriteString(", ")
				b.WriteString(formatFloat(c.OperandHigh))
				b.WriteString("]")
			} else if c.CompareKey != "" {
				b.WriteString(" ")
				b.WriteString(c.CompareKey)
			} else {
				b.WriteString(" ")
				b.WriteString(formatFloat(c.Operand))
			}
		}
	}
	return Notification{
		Title:   sig.RuleName + ": " + string(sig.Action),
		Message: b.String(),
	}
}

// formatFloat renders a float trimming trailing zeros.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
