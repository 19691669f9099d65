package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/reconcile"
	"github.com/rewired-gh/pricecheck/internal/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate SKU",
	Short: "Validate one SKU's forecasts for a prediction date",
	Long: `Fetch the forecasts a SKU received on --date for horizons 1..--step, compare
them with the prices actually observed and print the per-day comparison and
accuracy statistics.

Examples:
  pricecheck validate sku-123 --date 2025-01-10 --step 7
  pricecheck validate sku-123 --date 2025-01-10 --step 7 --change-threshold 0.1 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var (
	validateDate string
	validateStep int
	thresholds   thresholdFlags
)

// thresholdFlags holds optional per-run threshold overrides.
type thresholdFlags struct {
	probability float64
	change      float64
}

func (f *thresholdFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.probability, "probability-threshold", 0, "Override the probability threshold (predict changed when probability > value)")
	cmd.Flags().Float64Var(&f.change, "change-threshold", 0, "Override the change threshold (actual change when relative move > value)")
}

// params applies the overrides that were set on cmd to base.
func (f *thresholdFlags) params(cmd *cobra.Command, base reconcile.Params) reconcile.Params {
	if cmd.Flags().Changed("probability-threshold") {
		base.ProbabilityThreshold = f.probability
	}
	if cmd.Flags().Changed("change-threshold") {
		base.ChangeThreshold = f.change
	}
	return base
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateDate, "date", "", "Prediction date (YYYY-MM-DD)")
	validateCmd.Flags().IntVar(&validateStep, "step", 0, "Maximum prediction horizon in days")
	thresholds.register(validateCmd)
	_ = validateCmd.MarkFlagRequired("date")
	_ = validateCmd.MarkFlagRequired("step")
}

func runValidate(cmd *cobra.Command, args []string) error {
	date, err := models.ParseDate(validateDate)
	if err != nil {
		return fmt.Errorf("invalid --date: %w", err)
	}

	ctx := cmd.Context()
	src, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	v, err := newValidator(cfg, src, nil)
	if err != nil {
		return err
	}

	req := validator.Request{SKUID: args[0], PredictionDate: date, Step: validateStep}
	result, err := v.ValidateWith(ctx, req, thresholds.params(cmd, v.Params()))
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), result, outputFormat)
}
