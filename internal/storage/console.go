package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/mselser95/order-reconciler/internal/reconcile"
	"github.com/mselser95/order-reconciler/pkg/types"
	"go.uber.org/zap"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// ConsoleStorage implements Storage by pretty-printing sweeps to console.
// Nothing is persisted, so LoadActive always returns an empty set.
type ConsoleStorage struct {
	logger *zap.Logger
}

// NewConsoleStorage creates a new console storage.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{
		logger: logger,
	}
}

// StoreOrder logs the record at debug level.
func (c *ConsoleStorage) StoreOrder(ctx context.Context, rec types.OrderRecord) error {
	c.logger.Debug("order-journaled",
		zap.String("order-id", rec.ID),
		zap.String("symbol", rec.Symbol),
		zap.String("status", string(rec.Status)),
		zap.Int("retry-count", rec.RetryCount))
	return nil
}

// DeleteOrder logs the removal at debug level.
func (c *ConsoleStorage) DeleteOrder(ctx context.Context, id string) error {
	c.logger.Debug("order-unjournaled", zap.String("order-id", id))
	return nil
}

// StoreSweep pretty-prints a sweep summary to console.
func (c *ConsoleStorage) StoreSweep(ctx context.Context, report *reconcile.SweepReport) error {
	counts := report.Counts()

	fmt.Println("\n" + rule)
	fmt.Printf("🧹 STALE ORDER SWEEP\n")
	fmt.Println(rule)
	fmt.Printf("Sweep:    %s\n", shortID(report.SweepID))
	if report.Symbol != "" {
		fmt.Printf("Symbol:   %s\n", report.Symbol)
	}
	fmt.Printf("Started:  %s\n", report.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Duration: %s\n", report.Duration())
	fmt.Printf("Params:   v%d\n", report.ParamsVersion)
	fmt.Println(rule)
	fmt.Printf("📊 OUTCOMES (%d candidates)\n", counts.Candidates)
	fmt.Printf("  Cancelled:        %d\n", counts.Cancelled)
	fmt.Printf("  Already resolved: %d\n", counts.AlreadyResolved)
	fmt.Printf("  Retry next sweep: %d\n", counts.TransientRetry)
	fmt.Printf("  Expired:          %d\n", counts.Expired)
	fmt.Printf("  Cancel failed:    %d\n", counts.CancelFailed)
	fmt.Printf("  Deferred:         %d\n", counts.Deferred)
	if counts.Skewed > 0 {
		fmt.Printf("  Clock skew:       %d\n", counts.Skewed)
	}
	fmt.Printf("  Still active:     %d\n", report.RemainingActive)
	if report.HasAlerts() {
		fmt.Println(rule)
		fmt.Printf("🚨 NEEDS ATTENTION\n")
		if len(report.Expired) > 0 {
			fmt.Printf("  Expired:       %s\n", strings.Join(report.Expired, ", "))
		}
		if len(report.CancelFailed) > 0 {
			fmt.Printf("  Cancel failed: %s\n", strings.Join(report.CancelFailed, ", "))
		}
	}
	if report.Partial {
		fmt.Printf("  ⚠️  PARTIAL sweep, remaining candidates carry over\n")
	}
	fmt.Println(rule)

	return nil
}

// LoadActive returns nothing; console storage keeps no state.
func (c *ConsoleStorage) LoadActive(ctx context.Context) ([]types.OrderRecord, error) {
	return nil, nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
