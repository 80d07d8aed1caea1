package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mselser95/order-reconciler/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "order-reconciler",
	Short: "Stale order reconciliation for a trading bot",
	Long: `order-reconciler tracks the limit orders a trading bot places, and
periodically sweeps orders that have stayed unfilled past the configured
staleness threshold: it queries their exchange status, cancels the ones still
resting and reports anything it could not resolve.

Application settings come from the environment (and a .env file if present).
Trading parameters come from a TOML or YAML parameters file plus RECONCILER_*
environment overrides.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.PersistentFlags().String("params", "", "Trading parameters file (.toml, .yaml); overrides PARAMS_FILE")
}

// loadConfig reads .env if present, then the environment.
func loadConfig() (cfg *config.Config, err error) {
	err = godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err = config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return cfg, nil
}

// setup loads configuration and builds the logger shared by the commands.
func setup(cmd *cobra.Command) (cfg *config.Config, logger *zap.Logger, err error) {
	cfg, err = loadConfig()
	if err != nil {
		return nil, nil, err
	}

	params, _ := cmd.Flags().GetString("params")
	if params != "" {
		cfg.ParamsFile = params
	}

	logger, err = config.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	return cfg, logger, nil
}
