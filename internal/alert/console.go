package alert

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// ConsoleSender prints alerts with a visual border and logs them at error level.
type ConsoleSender struct {
	out    io.Writer
	logger *zap.Logger
}

// NewConsoleSender writes to out, or stderr when out is nil.
func NewConsoleSender(out io.Writer, logger *zap.Logger) *ConsoleSender {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleSender{out: out, logger: logger}
}

// Send prints the alert.
func (c *ConsoleSender) Send(ctx context.Context, alert Alert) error {
	border := strings.Repeat("=", 60)

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", border)
	fmt.Fprintf(&b, "🚨 %s ALERT\n", strings.ToUpper(string(alert.Severity)))
	fmt.Fprintf(&b, "Time:  %s\n", alert.Time.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Alert: %s\n", alert.Title)
	if alert.Message != "" {
		fmt.Fprintf(&b, "%s\n", alert.Message)
	}
	for _, f := range alert.Fields {
		fmt.Fprintf(&b, "  %s: %s\n", f.Name, f.Value)
	}
	fmt.Fprintf(&b, "%s\n", border)

	_, err := io.WriteString(c.out, b.String())
	if err != nil {
		return fmt.Errorf("write console alert: %w", err)
	}

	if c.logger != nil {
		c.logger.Error("alert-raised",
			zap.String("severity", string(alert.Severity)),
			zap.String("title", alert.Title))
	}
	return nil
}

// Name returns the channel identifier.
func (c *ConsoleSender) Name() string {
	return "console"
}
