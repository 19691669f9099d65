package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/pricecheck/internal/api"
	"github.com/rewired-gh/pricecheck/internal/logger"
	"github.com/rewired-gh/pricecheck/internal/metrics"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the validation HTTP API",
	Long: `Serve single-SKU and batch validation over HTTP, together with /healthz and
Prometheus /metrics. SIGINT or SIGTERM drains in-flight requests before exit.

Examples:
  pricecheck serve --config configs/config.yaml
  PRICECHECK_SERVER_ADDR=:9090 pricecheck serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	logger.Info("Serving validations from the %s source", cfg.Source.Kind)
	server := api.NewServer(v, reg, cfg.Server)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
		return err
	}
	logger.Info("Server stopped")
	return nil
}
