// Package alert delivers operator alerts for sweep outcomes that need a human:
// orders the reconciler gave up on and orders the exchange refused to cancel.
// The console channel is always on; remote channels are optional.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mselser95/order-reconciler/internal/reconcile"
	"github.com/mselser95/order-reconciler/pkg/cache"
	"go.uber.org/zap"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Field is one labelled detail line of an alert.
type Field struct {
	Name  string
	Value string
}

// Alert is one notification.
type Alert struct {
	Severity Severity
	Title    string
	Message  string
	Fields   []Field
	Time     time.Time

	// Fingerprint identifies repeats of the same condition. Empty disables dedup.
	Fingerprint string
}

// Sender delivers alerts over one channel.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Alerter fans alerts out to every sender, suppressing repeats of the same
// fingerprint within the dedup window.
type Alerter struct {
	senders  []Sender
	dedup    cache.Cache
	dedupTTL time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Config holds alerter configuration.
type Config struct {
	Senders []Sender
	// Dedup is optional. Without it every alert is delivered.
	Dedup    cache.Cache
	DedupTTL time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

// New creates a new Alerter.
func New(cfg *Config) (*Alerter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if len(cfg.Senders) == 0 {
		return nil, fmt.Errorf("at least one sender is required")
	}
	if cfg.Dedup != nil && cfg.DedupTTL <= 0 {
		return nil, fmt.Errorf("dedup ttl must be positive")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	names := make([]string, 0, len(cfg.Senders))
	for _, s := range cfg.Senders {
		names = append(names, s.Name())
	}
	cfg.Logger.Info("alerter-initialized", zap.Strings("channels", names))

	return &Alerter{
		senders:  cfg.Senders,
		dedup:    cfg.Dedup,
		dedupTTL: cfg.DedupTTL,
		now:      now,
		logger:   cfg.Logger,
	}, nil
}

// Notify delivers alert to every sender. It returns the joined send errors;
// a failing channel does not stop the others.
func (a *Alerter) Notify(ctx context.Context, alert Alert) (err error) {
	if alert.Time.IsZero() {
		alert.Time = a.now().UTC()
	}

	if a.suppressed(alert.Fingerprint) {
		AlertsSuppressedTotal.Inc()
		a.logger.Debug("alert-suppressed", zap.String("fingerprint", alert.Fingerprint))
		return nil
	}

	var errs []error
	for _, s := range a.senders {
		sendErr := s.Send(ctx, alert)
		if sendErr != nil {
			AlertsSentTotal.WithLabelValues(s.Name(), "error").Inc()
			a.logger.Error("alert-send-failed",
				zap.String("channel", s.Name()),
				zap.String("title", alert.Title),
				zap.Error(sendErr))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), sendErr))
			continue
		}
		AlertsSentTotal.WithLabelValues(s.Name(), "ok").Inc()
	}

	return errors.Join(errs...)
}

func (a *Alerter) suppressed(fingerprint string) bool {
	if a.dedup == nil || fingerprint == "" {
		return false
	}
	if _, seen := a.dedup.Get(fingerprint); seen {
		return true
	}
	a.dedup.Set(fingerprint, struct{}{}, a.dedupTTL)
	a.dedup.Wait()
	return false
}

// HandleReport raises one alert per outcome class that needs an operator.
func (a *Alerter) HandleReport(ctx context.Context, report *reconcile.SweepReport) {
	if report == nil || !report.HasAlerts() {
		return
	}

	for _, alert := range reportAlerts(report) {
		// errors are logged per channel in Notify
		_ = a.Notify(ctx, alert)
	}
}

func reportAlerts(report *reconcile.SweepReport) []Alert {
	var alerts []Alert

	if len(report.Expired) > 0 {
		alerts = append(alerts, Alert{
			Severity:    SeverityCritical,
			Title:       fmt.Sprintf("%d stale order(s) expired without a confirmed cancel", len(report.Expired)),
			Message:     "Cancellation kept failing transiently. These orders may still be live on the exchange; check them by hand.",
			Fields:      reportFields(report, report.Expired),
			Time:        report.FinishedAt,
			Fingerprint: fingerprint("expired", report.Expired),
		})
	}

	if len(report.CancelFailed) > 0 {
		alerts = append(alerts, Alert{
			Severity:    SeverityCritical,
			Title:       fmt.Sprintf("%d stale order(s) could not be cancelled", len(report.CancelFailed)),
			Message:     "The exchange rejected the query or cancel. These orders are excluded from further sweeps until resolved.",
			Fields:      reportFields(report, report.CancelFailed),
			Time:        report.FinishedAt,
			Fingerprint: fingerprint("cancel_failed", report.CancelFailed),
		})
	}

	return alerts
}

func reportFields(report *reconcile.SweepReport, ids []string) []Field {
	fields := []Field{
		{Name: "Orders", Value: strings.Join(ids, ", ")},
		{Name: "Sweep", Value: report.SweepID},
	}
	if report.Symbol != "" {
		fields = append(fields, Field{Name: "Symbol", Value: report.Symbol})
	}

	reasons := make([]string, 0, len(ids))
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	for _, e := range report.Errors {
		if wanted[e.OrderID] {
			reasons = append(reasons, fmt.Sprintf("%s (%s): %s", e.OrderID, e.Op, e.Error))
		}
	}
	if len(reasons) > 0 {
		fields = append(fields, Field{Name: "Errors", Value: strings.Join(reasons, "\n")})
	}
	return fields
}

func fingerprint(kind string, ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return kind + ":" + strings.Join(sorted, ",")
}
