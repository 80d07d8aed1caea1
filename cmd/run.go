package cmd

import (
	"fmt"

	"github.com/mselser95/order-reconciler/internal/app"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the reconciler service",
	Long: `Starts the reconciler, which will:
1. Restore journaled active orders into the registry
2. Follow order updates (paper exchange or the live order stream)
3. Sweep stale orders every SWEEP_INTERVAL
4. Serve /metrics, /health, /ready and the /api endpoints

Send SIGHUP to reload the trading parameters file.`,
	Args: cobra.NoArgs,
	RunE: runReconciler,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
}

func runReconciler(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	application, err := app.New(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
