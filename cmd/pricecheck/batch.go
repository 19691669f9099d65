package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/pricecheck/internal/logger"
	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/telegram"
)

var batchCmd = &cobra.Command{
	Use:   "batch [SKU...]",
	Short: "Validate many SKUs and rank them by accuracy",
	Long: `Validate every given SKU for the same prediction date and horizon and print
them ranked by accuracy. With no SKUs, every SKU in the source is validated
(sqlite only). A failing SKU is listed with its error and never aborts the
batch.

Examples:
  pricecheck batch sku-1 sku-2 sku-3 --date 2025-01-10 --step 7
  pricecheck batch --date 2025-01-10 --step 7 --notify`,
	RunE: runBatch,
}

var (
	batchDate   string
	batchStep   int
	batchNotify bool
)

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVar(&batchDate, "date", "", "Prediction date (YYYY-MM-DD)")
	batchCmd.Flags().IntVar(&batchStep, "step", 0, "Maximum prediction horizon in days")
	batchCmd.Flags().BoolVar(&batchNotify, "notify", false, "Send the report to Telegram")
	thresholds.register(batchCmd)
	_ = batchCmd.MarkFlagRequired("date")
	_ = batchCmd.MarkFlagRequired("step")
}

func runBatch(cmd *cobra.Command, args []string) error {
	date, err := models.ParseDate(batchDate)
	if err != nil {
		return fmt.Errorf("invalid --date: %w", err)
	}
	if batchNotify && !cfg.Telegram.Enabled {
		return fmt.Errorf("--notify requires telegram.enabled in the configuration")
	}

	ctx := cmd.Context()
	src, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	skus, err := resolveSKUs(ctx, src, args)
	if err != nil {
		return err
	}

	v, err := newValidator(cfg, src, nil)
	if err != nil {
		return err
	}

	report, err := v.BatchWith(ctx, skus, date, batchStep, thresholds.params(cmd, v.Params()))
	if err != nil {
		return err
	}
	if err := printBatch(cmd.OutOrStdout(), report, outputFormat); err != nil {
		return err
	}

	if batchNotify {
		tg, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		if err := tg.Send(report); err != nil {
			return fmt.Errorf("failed to send report: %w", err)
		}
		logger.Info("Batch report %s sent to Telegram", report.RunID)
	}
	return nil
}
