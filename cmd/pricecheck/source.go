package main

import (
	"context"
	"fmt"

	"github.com/rewired-gh/pricecheck/internal/config"
	"github.com/rewired-gh/pricecheck/internal/logger"
	"github.com/rewired-gh/pricecheck/internal/metrics"
	"github.com/rewired-gh/pricecheck/internal/postgres"
	"github.com/rewired-gh/pricecheck/internal/storage"
	"github.com/rewired-gh/pricecheck/internal/supabase"
	"github.com/rewired-gh/pricecheck/internal/validator"
)

// skuLister is implemented by sources that can enumerate their SKUs.
type skuLister interface {
	ListSKUs(ctx context.Context) ([]string, error)
}

// openSource connects the configured data source. The returned close func is
// never nil.
func openSource(ctx context.Context, c *config.Config) (validator.Source, func(), error) {
	noop := func() {}

	switch c.Source.Kind {
	case config.SourceSQLite:
		store, err := storage.New(c.Source.SQLitePath, c.Source.LookbackDays)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		logger.Debug("Using sqlite source at %s", c.Source.SQLitePath)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}, nil

	case config.SourcePostgres:
		src, err := postgres.Open(ctx, c.Source.Postgres, c.Source.LookbackDays)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		logger.Debug("Using postgres source")
		return src, func() {
			if err := src.Close(); err != nil {
				logger.Error("Failed to close postgres connection: %v", err)
			}
		}, nil

	case config.SourceSupabase:
		client, err := supabase.NewClient(c.Source.Supabase, c.Source.LookbackDays)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create supabase client: %w", err)
		}
		logger.Debug("Using supabase source at %s", c.Source.Supabase.URL)
		return client, noop, nil
	}

	return nil, noop, fmt.Errorf("unknown source kind %q", c.Source.Kind)
}

// newValidator wires a validator to the source with the configured defaults.
// reg may be nil.
func newValidator(c *config.Config, src validator.Source, reg *metrics.Registry) (*validator.Validator, error) {
	opts := []validator.Option{validator.WithConcurrency(c.Batch.Concurrency)}
	if reg != nil {
		opts = append(opts, validator.WithRecorder(reg))
	}
	return validator.New(src, c.Validation.Params(), opts...)
}

// resolveSKUs returns explicit SKUs when given, otherwise every SKU the source
// knows about.
func resolveSKUs(ctx context.Context, src validator.Source, explicit []string) ([]string, error) {
	if skus := validator.NormalizeSKUs(explicit); len(skus) > 0 {
		return skus, nil
	}
	lister, ok := src.(skuLister)
	if !ok {
		return nil, fmt.Errorf("no SKUs given and the source cannot list them")
	}
	skus, err := lister.ListSKUs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list SKUs: %w", err)
	}
	if len(skus) == 0 {
		return nil, fmt.Errorf("no SKUs given and the source has none")
	}
	return skus, nil
}
