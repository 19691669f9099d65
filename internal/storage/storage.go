// Package storage provides a SQLite-backed local copy of the backend tables:
// observed prices ("real") and model forecasts ("result"). It implements the
// validator's Source interface, so validations can run offline against a file
// or an in-memory database, and it can seed deterministic example data.
//
// Only raw rows live here. Computed comparisons and statistics are never stored.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"github.com/rewired-gh/pricecheck/internal/models"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS real (
	sku_id TEXT NOT NULL,
	date   TEXT NOT NULL,
	price  REAL NOT NULL,
	PRIMARY KEY (sku_id, date)
);
CREATE TABLE IF NOT EXISTS result (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	sku_id                 TEXT NOT NULL,
	prediction_date        TEXT NOT NULL,
	target_date            TEXT,
	prediction_step        INTEGER NOT NULL,
	prediction_probability REAL
);
CREATE INDEX IF NOT EXISTS idx_result_sku_prediction ON result (sku_id, prediction_date, prediction_step);
`

// Storage is a SQLite store of raw price and prediction rows.
type Storage struct {
	db           *sqlx.DB
	lookbackDays int
}

// New opens (or creates) the database at dbPath. ":memory:" gives a private
// in-memory database. lookbackDays bounds FetchHistoricalPrices; 0 means unbounded.
func New(dbPath string, lookbackDays int) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "pricecheck", "pricecheck.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Storage{db: db, lookbackDays: lookbackDays}, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// AddPrices upserts observed prices; a second row for the same SKU and day replaces the first.
func (s *Storage) AddPrices(ctx context.Context, prices []models.PricePoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO real (sku_id, date, price) VALUES (?, ?, ?)
		ON CONFLICT (sku_id, date) DO UPDATE SET price = excluded.price`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range prices {
		if p.SKUID == "" {
			return fmt.Errorf("invalid price: sku id must not be empty")
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid price for %s: %w", p.SKUID, err)
		}
		if _, err := stmt.ExecContext(ctx, p.SKUID, p.Date, p.Price); err != nil {
			return fmt.Errorf("failed to insert price: %w", err)
		}
	}

	return tx.Commit()
}

// AddPredictions inserts forecasts as-is. Rows are not validated so that
// dirty backend data can be reproduced locally; a NaN probability is stored as NULL.
func (s *Storage) AddPredictions(ctx context.Context, predictions []models.PredictionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO result (sku_id, prediction_date, target_date, prediction_step, prediction_probability)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range predictions {
		if p.SKUID == "" || p.PredictionDate.IsZero() {
			return fmt.Errorf("invalid prediction: sku id and prediction date are required")
		}
		prob := sql.NullFloat64{Float64: p.Probability, Valid: !math.IsNaN(p.Probability)}
		if _, err := stmt.ExecContext(ctx, p.SKUID, p.PredictionDate, p.TargetDate, p.PredictionStep, prob); err != nil {
			return fmt.Errorf("failed to insert prediction: %w", err)
		}
	}

	return tx.Commit()
}

// FetchHistoricalPrices returns prices strictly before asOf, within the lookback window.
func (s *Storage) FetchHistoricalPrices(ctx context.Context, skuID string, asOf models.Date) ([]models.PricePoint, error) {
	if s.lookbackDays > 0 {
		return s.queryPrices(ctx, `
			SELECT sku_id, date, price FROM real
			WHERE sku_id = ? AND date >= ? AND date < ?
			ORDER BY date ASC`, skuID, asOf.AddDays(-s.lookbackDays), asOf)
	}
	return s.queryPrices(ctx, `
		SELECT sku_id, date, price FROM real
		WHERE sku_id = ? AND date < ?
		ORDER BY date ASC`, skuID, asOf)
}

// FetchFuturePrices returns prices in [start, end].
func (s *Storage) FetchFuturePrices(ctx context.Context, skuID string, start, end models.Date) ([]models.PricePoint, error) {
	return s.queryPrices(ctx, `
		SELECT sku_id, date, price FROM real
		WHERE sku_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`, skuID, start, end)
}

// FetchPredictions returns forecasts issued on predictionDate with 1 <= step <= maxStep.
// NULL probabilities come back as NaN and NULL target dates as the zero date,
// leaving the decision to skip them to the reconciliation engine.
func (s *Storage) FetchPredictions(ctx context.Context, skuID string, predictionDate models.Date, maxStep int) ([]models.PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku_id, prediction_date, target_date, prediction_step, prediction_probability FROM result
		WHERE sku_id = ? AND prediction_date = ? AND prediction_step >= 1 AND prediction_step <= ?
		ORDER BY prediction_step ASC, id ASC`, skuID, predictionDate, maxStep)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	predictions := []models.PredictionRecord{}
	for rows.Next() {
		var (
			p    models.PredictionRecord
			prob sql.NullFloat64
		)
		if err := rows.Scan(&p.SKUID, &p.PredictionDate, &p.TargetDate, &p.PredictionStep, &prob); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		p.Probability = math.NaN()
		if prob.Valid {
			p.Probability = prob.Float64
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

// ListSKUs returns every SKU that has forecasts, sorted.
func (s *Storage) ListSKUs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT sku_id FROM result ORDER BY sku_id`); err != nil {
		return nil, fmt.Errorf("failed to list skus: %w", err)
	}
	return ids, nil
}

// PruneBefore deletes price and forecast rows older than cutoff and returns
// the number of rows removed.
func (s *Storage) PruneBefore(ctx context.Context, cutoff models.Date) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM real WHERE date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune prices: %w", err)
	}
	prices, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM result WHERE prediction_date < ?`, cutoff)
	if err != nil {
		return prices, fmt.Errorf("failed to prune predictions: %w", err)
	}
	preds, _ := res.RowsAffected()
	return prices + preds, nil
}

func (s *Storage) queryPrices(ctx context.Context, query string, args ...interface{}) ([]models.PricePoint, error) {
	prices := []models.PricePoint{}
	if err := s.db.SelectContext(ctx, &prices, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	return prices, nil
}
