package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/mselser95/order-reconciler/internal/app"
	"github.com/mselser95/order-reconciler/pkg/timestamp"
	"github.com/mselser95/order-reconciler/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var listOrdersCmd = &cobra.Command{
	Use:   "list-orders",
	Short: "List the journaled active orders",
	Long: `List the active orders recorded in the journal (postgres or badger
storage), oldest first, with their age against the staleness threshold.

Examples:
  # List all active orders
  order-reconciler list-orders

  # Only BTCUSDT
  order-reconciler list-orders --symbol BTCUSDT`,
	Args: cobra.NoArgs,
	RunE: runListOrders,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(listOrdersCmd)
	listOrdersCmd.Flags().String("symbol", "", "Only list orders for this symbol")
}

func runListOrders(cmd *cobra.Command, args []string) (err error) {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.StorageMode == "console" {
		return fmt.Errorf("list-orders needs a persistent journal, STORAGE_MODE is %q", cfg.StorageMode)
	}

	symbol, _ := cmd.Flags().GetString("symbol")

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

	orders := make([]types.OrderRecord, 0)
	for _, rec := range application.Registry().AllActive() {
		if symbol == "" || rec.Symbol == symbol {
			orders = append(orders, rec)
		}
	}

	out := cmd.OutOrStdout()
	if len(orders) == 0 {
		fmt.Fprintln(out, "No active orders found.")
		return nil
	}

	threshold := application.Params().Current().StaleOrderThreshold
	displayListOrdersTable(out, orders, threshold, time.Now())
	displayListOrdersSummary(out, orders)

	return nil
}

func displayListOrdersTable(out io.Writer, orders []types.OrderRecord, threshold time.Duration, now time.Time) {
	fmt.Fprintln(out, "\n========================================")
	fmt.Fprintln(out, "Active Orders")
	fmt.Fprintln(out, "========================================")
	fmt.Fprintf(out, "%-24s %-12s %-6s %-10s %-10s %-18s %-10s\n",
		"Order ID", "Symbol", "Side", "Price", "Qty", "Status", "Age")
	fmt.Fprintln(out, "------------------------------------------------------------------------------------------------")

	for _, o := range orders {
		age := "n/a"
		stale := ""
		seconds, err := timestamp.AgeSeconds(o.CreatedAt, now)
		if err == nil {
			age = timestamp.FormatAge(seconds)
			if seconds > threshold.Seconds() {
				stale = " ⏰"
			}
		}

		fmt.Fprintf(out, "%-24s %-12s %-6s %-10s %-10s %-18s %-10s%s\n",
			truncate(o.ID, 24),
			o.Symbol,
			o.Side,
			o.Price.String(),
			o.Quantity.String(),
			o.Status,
			age,
			stale)
	}
}

func displayListOrdersSummary(out io.Writer, orders []types.OrderRecord) {
	notional := decimal.Zero
	symbols := make(map[string]struct{})
	for _, o := range orders {
		remaining := o.Quantity.Sub(o.FilledQuantity)
		notional = notional.Add(remaining.Mul(o.Price))
		symbols[o.Symbol] = struct{}{}
	}

	fmt.Fprintln(out, "========================================")
	fmt.Fprintf(out, "Total: %d order(s) across %d symbol(s)\n", len(orders), len(symbols))
	fmt.Fprintf(out, "Resting notional: %s\n", notional.StringFixed(2))
}
