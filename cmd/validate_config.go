package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/mselser95/order-reconciler/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate a trading parameters file",
	Long: `Loads a parameters file (plus RECONCILER_* overrides), validates it and
prints the resulting snapshot, or every violation found.

Examples:
  order-reconciler validate-config --file params.toml`,
	Args: cobra.NoArgs,
	RunE: runValidateConfig,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(validateConfigCmd)
	validateConfigCmd.Flags().StringP("file", "f", "", "Parameters file to validate (defaults to PARAMS_FILE)")
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.ParamsFile
	}

	return validateParams(cmd.OutOrStdout(), path)
}

func validateParams(out io.Writer, path string) error {
	raw, err := config.LoadParameters(path)
	if err != nil {
		return fmt.Errorf("load parameters: %w", err)
	}

	source := path
	if source == "" {
		source = "built-in defaults"
	}

	snap, err := config.Validate(raw)
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(out, "❌ %s: %d violation(s)\n", source, len(cfgErr.Violations))
			for _, v := range cfgErr.Violations {
				fmt.Fprintf(out, "  - %s: %s\n", v.Field, v.Message)
			}
		}
		return fmt.Errorf("invalid parameters: %w", err)
	}

	fmt.Fprintf(out, "✅ %s is valid\n", source)
	fmt.Fprintf(out, "  max_active_positions:  %d\n", snap.MaxActivePositions)
	fmt.Fprintf(out, "  profit_levels:         %v\n", snap.ProfitLevels)
	fmt.Fprintf(out, "  profit_percentages:    %v\n", snap.ProfitPercentages)
	fmt.Fprintf(out, "  stale_order_threshold: %s\n", snap.StaleOrderThreshold)
	fmt.Fprintf(out, "  max_cancel_retries:    %d\n", snap.MaxCancelRetries)
	fmt.Fprintf(out, "  max_concurrent_calls:  %d\n", snap.MaxConcurrentCalls)
	fmt.Fprintf(out, "  gateway_call_timeout:  %s\n", snap.GatewayCallTimeout)
	fmt.Fprintf(out, "  sweep_deadline:        %s\n", snap.SweepDeadline)
	fmt.Fprintf(out, "  tombstone_retention:   %s\n", snap.TombstoneRetention)

	return nil
}
