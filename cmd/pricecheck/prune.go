package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/pricecheck/internal/config"
	"github.com/rewired-gh/pricecheck/internal/logger"
	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/storage"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old rows from the sqlite store",
	Long: `Delete prices dated before --before and forecasts issued before it from the
sqlite store.

Examples:
  pricecheck prune --before 2024-01-01`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

var pruneBefore string

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().StringVar(&pruneBefore, "before", "", "Cutoff date (YYYY-MM-DD), rows before it are deleted")
	_ = pruneCmd.MarkFlagRequired("before")
}

func runPrune(cmd *cobra.Command, args []string) error {
	if cfg.Source.Kind != config.SourceSQLite {
		return fmt.Errorf("prune only supports the sqlite source, configured source is %q", cfg.Source.Kind)
	}
	cutoff, err := models.ParseDate(pruneBefore)
	if err != nil {
		return fmt.Errorf("invalid --before: %w", err)
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

	removed, err := store.PruneBefore(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	logger.Info("Pruned %d rows before %s", removed, cutoff)
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d rows before %s from %s\n", removed, cutoff, cfg.Source.SQLitePath)
	return nil
}
