package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/pricecheck/internal/logger"
	"github.com/rewired-gh/pricecheck/internal/metrics"
	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/telegram"
	"github.com/rewired-gh/pricecheck/internal/validator"
)

const jobName = "Scheduled validation"

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the batch validation on a cron schedule",
	Long: `Run a batch validation every time schedule.cron fires and send the report to
Telegram when enabled. The prediction date is the run day shifted by
schedule.date_offset_days (default: minus the step, the latest horizon whose
outcome is already observed).

Examples:
  pricecheck schedule --config configs/config.yaml
  pricecheck schedule --run-now --metrics-addr :9102`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

var (
	scheduleRunNow      bool
	scheduleMetricsAddr string
)

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().BoolVar(&scheduleRunNow, "run-now", false, "Run once immediately before waiting for the schedule")
	scheduleCmd.Flags().StringVar(&scheduleMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// notifier is the subset of the Telegram client a scheduled job reports to.
type notifier interface {
	Send(report *validator.BatchReport) error
	SendError(job string, err error) error
	SendRecovery(job string, failures int) error
}

// batchJob runs one scheduled batch and tracks consecutive failures so that
// only the first failure and the recovery are announced.
type batchJob struct {
	validator  *validator.Validator
	source     validator.Source
	metrics    *metrics.Registry
	notify     notifier // nil disables notifications
	skus       []string
	step       int
	dateOffset int
	now        func() time.Time

	consecutiveFailures int
}

// predictionDate is the run day shifted by the configured offset.
func (j *batchJob) predictionDate() models.Date {
	return models.DateOf(j.now()).AddDays(j.dateOffset)
}

func (j *batchJob) execute(ctx context.Context) (*validator.BatchReport, error) {
	skus, err := resolveSKUs(ctx, j.source, j.skus)
	if err != nil {
		return nil, err
	}
	report, err := j.validator.Batch(ctx, skus, j.predictionDate(), j.step)
	if err != nil {
		return nil, err
	}
	if j.metrics != nil {
		j.metrics.ObserveBatch(report)
	}
	if len(report.Errors) == len(report.Results) {
		return report, fmt.Errorf("all %d SKUs failed, first error: %w", len(report.Errors), report.Errors[0])
	}
	return report, nil
}

// run executes the job and handles notifications. The returned error is the
// job's own failure, notification errors are only logged.
func (j *batchJob) run(ctx context.Context) error {
	report, err := j.execute(ctx)
	if err != nil {
		j.consecutiveFailures++
		logger.Error("%s failed (%d in a row): %v", jobName, j.consecutiveFailures, err)
		if j.consecutiveFailures == 1 && j.notify != nil {
			if sendErr := j.notify.SendError(jobName, err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		return err
	}

	if j.notify != nil {
		if j.consecutiveFailures > 0 {
			if sendErr := j.notify.SendRecovery(jobName, j.consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		if sendErr := j.notify.Send(report); sendErr != nil {
			logger.Warn("Failed to send batch report to Telegram: %v", sendErr)
		}
	}
	j.consecutiveFailures = 0
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	reg := metrics.NewRegistry()
	v, err := newValidator(cfg, src, reg)
	if err != nil {
		return err
	}

	job := &batchJob{
		validator:  v,
		source:     src,
		metrics:    reg,
		skus:       cfg.Schedule.SKUs,
		step:       cfg.Schedule.Step,
		dateOffset: cfg.Schedule.DateOffsetDays,
		now:        time.Now,
	}
	if cfg.Telegram.Enabled {
		tg, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		job.notify = tg
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	if scheduleMetricsAddr != "" {
		metricsServer := &http.Server{Addr: scheduleMetricsAddr, Handler: reg.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("Serving metrics on %s", scheduleMetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	// A tick that fires while the previous batch is still running is skipped.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Schedule.Cron, func() { _ = job.run(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule.Cron, err)
	}

	logger.Info("Starting scheduler (cron: %q, step: %d, date offset: %d days, SKUs: %d)",
		cfg.Schedule.Cron, cfg.Schedule.Step, cfg.Schedule.DateOffsetDays, len(cfg.Schedule.SKUs))
	if scheduleRunNow {
		logger.Debug("Running initial batch")
		_ = job.run(ctx)
	}

	c.Start()
	<-ctx.Done()

	logger.Info("Shutdown signal received, waiting for running batch...")
	<-c.Stop().Done()
	logger.Info("Scheduler stopped")
	return nil
}
