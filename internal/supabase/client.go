// Package supabase reads the "real" and "result" tables through Supabase's
// PostgREST endpoint. Requests are rate limited, retried with exponential
// backoff on transport and 5xx errors, and guarded by a circuit breaker so a
// failing backend is not hammered by a large batch.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/pricecheck/internal/logger"
	"github.com/rewired-gh/pricecheck/internal/models"
)

const (
	defaultPageSize  = 1000
	maxResponseBytes = 32 << 20
)

// Config holds Supabase connection settings.
type Config struct {
	URL               string        `mapstructure:"url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	PageSize          int           `mapstructure:"page_size"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("supabase returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("supabase returned status %d: %s", e.StatusCode, e.Body)
}

// Client implements validator.Source over PostgREST.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
	maxRetries   int
	pageSize     int
	lookbackDays int
	newBackOff   func() backoff.BackOff
}

// NewClient creates a Supabase client.
func NewClient(cfg Config, lookbackDays int) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("supabase url is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("supabase api key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "supabase",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors mean the request is wrong, not that the backend is down.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		baseURL:      strings.TrimRight(cfg.URL, "/") + "/rest/v1",
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
		breaker:      breaker,
		maxRetries:   cfg.MaxRetries,
		pageSize:     cfg.PageSize,
		lookbackDays: lookbackDays,
		newBackOff:   func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}, nil
}

type priceRow struct {
	SKUID string       `json:"sku_id"`
	Date  lenientDate  `json:"date"`
	Price lenientFloat `json:"price"`
}

type predictionRow struct {
	SKUID          string       `json:"sku_id"`
	PredictionDate lenientDate  `json:"prediction_date"`
	TargetDate     lenientDate  `json:"target_date"`
	PredictionStep int          `json:"prediction_step"`
	Probability    lenientFloat `json:"prediction_probability"`
}

// FetchHistoricalPrices returns prices strictly before asOf, within the lookback window.
func (c *Client) FetchHistoricalPrices(ctx context.Context, skuID string, asOf models.Date) ([]models.PricePoint, error) {
	q := url.Values{}
	q.Set("select", "sku_id,date,price")
	q.Set("sku_id", "eq."+skuID)
	q.Add("date", "lt."+asOf.String())
	if c.lookbackDays > 0 {
		q.Add("date", "gte."+asOf.AddDays(-c.lookbackDays).String())
	}
	q.Set("order", "date.asc")
	return c.fetchPrices(ctx, q)
}

// FetchFuturePrices returns prices in [start, end].
func (c *Client) FetchFuturePrices(ctx context.Context, skuID string, start, end models.Date) ([]models.PricePoint, error) {
	q := url.Values{}
	q.Set("select", "sku_id,date,price")
	q.Set("sku_id", "eq."+skuID)
	q.Add("date", "gte."+start.String())
	q.Add("date", "lte."+end.String())
	q.Set("order", "date.asc")
	return c.fetchPrices(ctx, q)
}

// FetchPredictions returns forecasts issued on predictionDate with
// 1 <= step <= maxStep. Probabilities that are null or unparseable come back
// as NaN so the reconciliation engine reports them instead of guessing.
func (c *Client) FetchPredictions(ctx context.Context, skuID string, predictionDate models.Date, maxStep int) ([]models.PredictionRecord, error) {
	q := url.Values{}
	q.Set("select", "sku_id,prediction_date,target_date,prediction_step,prediction_probability")
	q.Set("sku_id", "eq."+skuID)
	q.Set("prediction_date", "eq."+predictionDate.String())
	q.Add("prediction_step", "gte.1")
	q.Add("prediction_step", "lte."+strconv.Itoa(maxStep))
	q.Set("order", "prediction_step.asc")

	predictions := []models.PredictionRecord{}
	err := c.paginate(ctx, "result", q, func(body []byte) (int, error) {
		var rows []predictionRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return 0, fmt.Errorf("failed to decode predictions: %w", err)
		}
		for _, r := range rows {
			predictions = append(predictions, models.PredictionRecord{
				SKUID:          r.SKUID,
				PredictionDate: models.Date(r.PredictionDate),
				TargetDate:     models.Date(r.TargetDate),
				PredictionStep: r.PredictionStep,
				Probability:    float64(r.Probability),
			})
		}
		return len(rows), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch predictions: %w", err)
	}
	return predictions, nil
}

func (c *Client) fetchPrices(ctx context.Context, q url.Values) ([]models.PricePoint, error) {
	prices := []models.PricePoint{}
	err := c.paginate(ctx, "real", q, func(body []byte) (int, error) {
		var rows []priceRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return 0, fmt.Errorf("failed to decode prices: %w", err)
		}
		for _, r := range rows {
			prices = append(prices, models.PricePoint{
				SKUID: r.SKUID,
				Date:  models.Date(r.Date),
				Price: float64(r.Price),
			})
		}
		return len(rows), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	return prices, nil
}

// paginate walks limit/offset pages until a short page is returned.
func (c *Client) paginate(ctx context.Context, table string, q url.Values, decode func([]byte) (int, error)) error {
	for offset := 0; ; offset += c.pageSize {
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("offset", strconv.Itoa(offset))

		body, err := c.get(ctx, table, q)
		if err != nil {
			return err
		}
		n, err := decode(body)
		if err != nil {
			return err
		}
		if n < c.pageSize {
			return nil
		}
	}
}

// get performs a rate-limited GET with retries inside the circuit breaker.
func (c *Client) get(ctx context.Context, table string, q url.Values) ([]byte, error) {
	endpoint := c.baseURL + "/" + table + "?" + q.Encode()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		var body []byte
		operation := func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
			b, err := c.do(ctx, endpoint)
			if err != nil {
				var se *StatusError
				if errors.As(err, &se) && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
					return backoff.Permanent(err)
				}
				logger.Debug("Supabase request to %s failed, retrying: %v", table, err)
				return err
			}
			body = b
			return nil
		}

		policy := backoff.WithContext(
			backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
		if err := backoff.Retry(operation, policy); err != nil {
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}
	return body, nil
}

// lenientFloat accepts a JSON number or numeric string. null, empty and
// unparseable values decode to NaN.
type lenientFloat float64

func (f *lenientFloat) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		*f = lenientFloat(math.NaN())
		return nil
	}
	switch v := raw.(type) {
	case float64:
		*f = lenientFloat(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			parsed = math.NaN()
		}
		*f = lenientFloat(parsed)
	default:
		*f = lenientFloat(math.NaN())
	}
	return nil
}

// lenientDate decodes null or malformed dates to the zero date.
type lenientDate models.Date

func (d *lenientDate) UnmarshalJSON(data []byte) error {
	var parsed models.Date
	if err := parsed.UnmarshalJSON(data); err != nil {
		parsed = models.Date{}
	}
	*d = lenientDate(parsed)
	return nil
}
