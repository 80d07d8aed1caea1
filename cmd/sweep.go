package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/order-reconciler/internal/app"
	"github.com/mselser95/order-reconciler/internal/staleness"
	"github.com/mselser95/order-reconciler/internal/storage"
	"github.com/mselser95/order-reconciler/pkg/timestamp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one stale order sweep and exit",
	Long: `Restores the journaled active orders, runs a single sweep against the
configured gateway and prints the report.

With --dry-run the stale candidates are listed and nothing is sent to the
exchange. The command exits non-zero when orders expired or could not be
cancelled.

The badger journal is single-process: stop the service before sweeping
against a badger store.

Examples:
  # Sweep every stale order
  order-reconciler sweep

  # Preview stale BTCUSDT orders
  order-reconciler sweep --symbol BTCUSDT --dry-run`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().String("symbol", "", "Only sweep orders for this symbol")
	sweepCmd.Flags().Bool("dry-run", false, "List stale candidates without querying or cancelling")
	sweepCmd.Flags().Bool("json", false, "Print the report as JSON")
}

func runSweep(cmd *cobra.Command, args []string) (err error) {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	symbol, _ := cmd.Flags().GetString("symbol")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	asJSON, _ := cmd.Flags().GetBool("json")

	application, err := app.New(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer func() {
		shutdownErr := application.Shutdown()
		if shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	if dryRun {
		result := application.Engine().Preview(symbol)
		threshold := application.Params().Current().StaleOrderThreshold
		if asJSON {
			return printJSON(result)
		}
		displayPreview(result, threshold)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := application.Scheduler().RunNow(ctx, symbol)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	switch {
	case asJSON:
		err = printJSON(report)
		if err != nil {
			return err
		}
	case cfg.StorageMode != "console":
		// The console journal has already printed the report.
		_ = storage.NewConsoleStorage(zap.NewNop()).StoreSweep(ctx, report)
	}

	if report.HasAlerts() {
		counts := report.Counts()
		return fmt.Errorf("sweep %s needs attention: %d expired, %d cancel failed",
			report.SweepID, counts.Expired, counts.CancelFailed)
	}

	return nil
}

func displayPreview(result staleness.Result, threshold time.Duration) {
	fmt.Printf("\nStale orders (threshold %s): %d\n", threshold, len(result.Stale))
	if len(result.Stale) > 0 {
		fmt.Printf("%-24s %-12s %-6s %-18s %-10s\n", "Order ID", "Symbol", "Side", "Status", "Age")
		fmt.Println("--------------------------------------------------------------------------")
		for _, c := range result.Stale {
			fmt.Printf("%-24s %-12s %-6s %-18s %-10s\n",
				truncate(c.Record.ID, 24),
				c.Record.Symbol,
				c.Record.Side,
				c.Record.Status,
				timestamp.FormatAge(c.AgeSeconds))
		}
	}

	if len(result.Skewed) > 0 {
		fmt.Printf("\nSkipped for clock skew: %d\n", len(result.Skewed))
		for _, s := range result.Skewed {
			fmt.Printf("  %s: %v\n", s.Record.ID, s.Err)
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
