// Package postgres reads price and prediction rows straight from the
// backend's PostgreSQL database (the "real" and "result" tables) using sqlx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/rewired-gh/pricecheck/internal/models"
)

// Config holds database connection configuration.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// DefaultConfig returns reasonable pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Source implements validator.Source on top of PostgreSQL.
type Source struct {
	db           *sqlx.DB
	timeout      time.Duration
	lookbackDays int
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, cfg Config, lookbackDays int) (*Source, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	s := NewWithDB(db, cfg.QueryTimeout, lookbackDays)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection. A non-positive timeout falls back
// to the default query timeout.
func NewWithDB(db *sqlx.DB, queryTimeout time.Duration, lookbackDays int) *Source {
	if queryTimeout <= 0 {
		queryTimeout = DefaultConfig().QueryTimeout
	}
	return &Source{db: db, timeout: queryTimeout, lookbackDays: lookbackDays}
}

// Ping checks connectivity within the query timeout.
func (s *Source) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Source) Close() error {
	return s.db.Close()
}

// FetchHistoricalPrices returns prices strictly before asOf, within the lookback window.
func (s *Source) FetchHistoricalPrices(ctx context.Context, skuID string, asOf models.Date) ([]models.PricePoint, error) {
	if s.lookbackDays > 0 {
		return s.selectPrices(ctx, `
			SELECT sku_id, date, price FROM real
			WHERE sku_id = $1 AND date >= $2 AND date < $3
			ORDER BY date ASC`, skuID, asOf.AddDays(-s.lookbackDays), asOf)
	}
	return s.selectPrices(ctx, `
		SELECT sku_id, date, price FROM real
		WHERE sku_id = $1 AND date < $2
		ORDER BY date ASC`, skuID, asOf)
}

// FetchFuturePrices returns prices in [start, end].
func (s *Source) FetchFuturePrices(ctx context.Context, skuID string, start, end models.Date) ([]models.PricePoint, error) {
	return s.selectPrices(ctx, `
		SELECT sku_id, date, price FROM real
		WHERE sku_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC`, skuID, start, end)
}

type predictionRow struct {
	SKUID          string          `db:"sku_id"`
	PredictionDate models.Date     `db:"prediction_date"`
	TargetDate     models.Date     `db:"target_date"`
	PredictionStep int             `db:"prediction_step"`
	Probability    sql.NullFloat64 `db:"prediction_probability"`
}

// FetchPredictions returns forecasts issued on predictionDate with
// 1 <= step <= maxStep. NULL probabilities come back as NaN.
func (s *Source) FetchPredictions(ctx context.Context, skuID string, predictionDate models.Date, maxStep int) ([]models.PredictionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []predictionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT sku_id, prediction_date, target_date, prediction_step, prediction_probability
		FROM result
		WHERE sku_id = $1 AND prediction_date = $2 AND prediction_step >= 1 AND prediction_step <= $3
		ORDER BY prediction_step ASC`, skuID, predictionDate, maxStep)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}

	predictions := make([]models.PredictionRecord, 0, len(rows))
	for _, r := range rows {
		p := models.PredictionRecord{
			SKUID:          r.SKUID,
			PredictionDate: r.PredictionDate,
			TargetDate:     r.TargetDate,
			PredictionStep: r.PredictionStep,
			Probability:    math.NaN(),
		}
		if r.Probability.Valid {
			p.Probability = r.Probability.Float64
		}
		predictions = append(predictions, p)
	}
	return predictions, nil
}

func (s *Source) selectPrices(ctx context.Context, query string, args ...interface{}) ([]models.PricePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prices := []models.PricePoint{}
	if err := s.db.SelectContext(ctx, &prices, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	return prices, nil
}
