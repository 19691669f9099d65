// Command pricecheck validates price-change forecasts against observed prices.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/pricecheck/internal/config"
	"github.com/rewired-gh/pricecheck/internal/logger"
)

var (
	configPath   string
	envFile      string
	outputFormat string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pricecheck",
	Short: "Validate price-change forecasts against actual prices",
	Long: `pricecheck compares the probabilities a forecasting model assigned to
"this SKU's price changes on day t" with what the price actually did.

Examples:
  pricecheck validate sku-123 --date 2025-01-10 --step 7
  pricecheck batch sku-1 sku-2 --date 2025-01-10 --step 7 --notify
  pricecheck serve --config configs/config.yaml`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default: defaults plus PRICECHECK_* environment)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the configuration, if present")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatAuto, "Output format (auto|table|json)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := checkFormat(outputFormat); err != nil {
		return err
	}

	logger.Init(loaded.Logging.Level, loaded.Logging.Format)
	if configPath != "" {
		logger.Debug("Configuration loaded from %s", configPath)
	}
	cfg = loaded
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
