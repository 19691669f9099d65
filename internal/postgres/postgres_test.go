package postgres

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/pricecheck/internal/models"
)

func setupMockSource(t *testing.T, lookbackDays int) (*Source, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	return NewWithDB(db, 5*time.Second, lookbackDays), mock
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Empty(t, cfg.DSN)
}

func TestOpen_MissingDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{}, 90)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func TestNewWithDB_DefaultTimeout(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := NewWithDB(sqlx.NewDb(mockDB, "postgres"), 0, 0)
	assert.Equal(t, 30*time.Second, s.timeout)
}

func TestFetchHistoricalPrices(t *testing.T) {
	s, mock := setupMockSource(t, 90)

	rows := sqlmock.NewRows([]string{"sku_id", "date", "price"}).
		AddRow("sku-1", time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), 100.0).
		AddRow("sku-1", time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC), []byte("101.5"))

	mock.ExpectQuery(`SELECT sku_id, date, price FROM real\s+WHERE sku_id = \$1 AND date >= \$2 AND date < \$3`).
		WithArgs("sku-1", "2024-10-12", "2025-01-10").
		WillReturnRows(rows)

	prices, err := s.FetchHistoricalPrices(context.Background(), "sku-1", models.MustParseDate("2025-01-10"))
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, "2025-01-08", prices[0].Date.String())
	assert.Equal(t, 101.5, prices[1].Price)
	assert.False(t, prices[1].Filled)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchHistoricalPrices_Unbounded(t *testing.T) {
	s, mock := setupMockSource(t, 0)

	mock.ExpectQuery(`WHERE sku_id = \$1 AND date < \$2`).
		WithArgs("sku-1", "2025-01-10").
		WillReturnRows(sqlmock.NewRows([]string{"sku_id", "date", "price"}))

	prices, err := s.FetchHistoricalPrices(context.Background(), "sku-1", models.MustParseDate("2025-01-10"))
	require.NoError(t, err)
	assert.NotNil(t, prices)
	assert.Empty(t, prices)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchFuturePrices(t *testing.T) {
	s, mock := setupMockSource(t, 90)

	mock.ExpectQuery(`WHERE sku_id = \$1 AND date >= \$2 AND date <= \$3`).
		WithArgs("sku-1", "2025-01-10", "2025-01-17").
		WillReturnRows(sqlmock.NewRows([]string{"sku_id", "date", "price"}).
			AddRow("sku-1", "2025-01-10", 100.0))

	prices, err := s.FetchFuturePrices(context.Background(), "sku-1",
		models.MustParseDate("2025-01-10"), models.MustParseDate("2025-01-17"))
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, "sku-1", prices[0].SKUID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPrices_Error(t *testing.T) {
	s, mock := setupMockSource(t, 90)

	mock.ExpectQuery(`FROM real`).WillReturnError(errors.New("connection reset"))

	_, err := s.FetchFuturePrices(context.Background(), "sku-1",
		models.MustParseDate("2025-01-10"), models.MustParseDate("2025-01-17"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query prices")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPredictions(t *testing.T) {
	s, mock := setupMockSource(t, 90)

	rows := sqlmock.NewRows([]string{"sku_id", "prediction_date", "target_date", "prediction_step", "prediction_probability"}).
		AddRow("sku-1", "2025-01-10", "2025-01-11", 1, 0.72).
		AddRow("sku-1", "2025-01-10", nil, 2, nil)

	mock.ExpectQuery(`FROM result\s+WHERE sku_id = \$1 AND prediction_date = \$2`).
		WithArgs("sku-1", "2025-01-10", 7).
		WillReturnRows(rows)

	preds, err := s.FetchPredictions(context.Background(), "sku-1", models.MustParseDate("2025-01-10"), 7)
	require.NoError(t, err)
	require.Len(t, preds, 2)

	assert.Equal(t, 0.72, preds[0].Probability)
	assert.Equal(t, "2025-01-11", preds[0].TargetDate.String())
	assert.True(t, preds[1].TargetDate.IsZero())
	assert.True(t, math.IsNaN(preds[1].Probability))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	s := NewWithDB(sqlx.NewDb(mockDB, "postgres"), time.Second, 0)

	mock.ExpectPing()
	assert.NoError(t, s.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	err = s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")

	assert.NoError(t, mock.ExpectationsWereMet())
}
