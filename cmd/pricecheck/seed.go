package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/pricecheck/internal/config"
	"github.com/rewired-gh/pricecheck/internal/logger"
	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/storage"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill the sqlite store with generated prices and forecasts",
	Long: `Generate a deterministic random walk of prices and matching forecasts for
the given SKUs and write them to the sqlite store. Existing rows for the same
keys are replaced.

Examples:
  pricecheck seed --skus sku-1,sku-2 --start 2025-01-01 --days 30
  pricecheck seed --skus demo --start 2025-01-01 --days 90 --max-step 14 --seed 42`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

var (
	seedSKUs        []string
	seedStart       string
	seedDays        int
	seedHistoryDays int
	seedMaxStep     int
	seedValue       uint64
)

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringSliceVar(&seedSKUs, "skus", nil, "Comma-separated SKU IDs")
	seedCmd.Flags().StringVar(&seedStart, "start", "", "First prediction date (YYYY-MM-DD)")
	seedCmd.Flags().IntVar(&seedDays, "days", 30, "Number of prediction dates")
	seedCmd.Flags().IntVar(&seedHistoryDays, "history-days", 30, "Days of price history before --start")
	seedCmd.Flags().IntVar(&seedMaxStep, "max-step", 7, "Forecast horizons per prediction date")
	seedCmd.Flags().Uint64Var(&seedValue, "seed", 1, "Random seed")
	_ = seedCmd.MarkFlagRequired("skus")
	_ = seedCmd.MarkFlagRequired("start")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if cfg.Source.Kind != config.SourceSQLite {
		return fmt.Errorf("seed only supports the sqlite source, configured source is %q", cfg.Source.Kind)
	}
	start, err := models.ParseDate(seedStart)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}

	store, err := storage.New(cfg.Source.SQLitePath, cfg.Source.LookbackDays)
	if err != nil {
		return fmt.Errorf("failed to open sqlite store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	res, err := store.Seed(cmd.Context(), storage.SeedOptions{
		SKUs:        seedSKUs,
		Start:       start,
		Days:        seedDays,
		HistoryDays: seedHistoryDays,
		MaxStep:     seedMaxStep,
		Seed:        seedValue,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s: %d prices, %d predictions\n",
		cfg.Source.SQLitePath, res.Prices, res.Predictions)
	return nil
}
