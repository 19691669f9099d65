// Package metrics exposes Prometheus collectors for validation runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/validator"
)

// Registry holds all collectors. It implements validator.Recorder.
type Registry struct {
	registry *prometheus.Registry

	Validations        *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec
	DataWarnings       *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec

	BatchRuns        prometheus.Counter
	BatchSKUFailures prometheus.Counter
	BatchAccuracy    prometheus.Gauge
	BatchDuration    prometheus.Histogram
}

// NewRegistry creates a registry with every collector registered, plus the
// standard Go runtime and process collectors.
func NewRegistry() *Registry {
	m := &Registry{
		registry: prometheus.NewRegistry(),

		Validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecheck_validations_total",
				Help: "Single-SKU validations by outcome (ok, no_data, error)",
			},
			[]string{"outcome"},
		),

		ValidationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricecheck_validation_duration_seconds",
				Help:    "Duration of single-SKU validations in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"outcome"},
		),

		DataWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecheck_data_warnings_total",
				Help: "Malformed input rows skipped during reconciliation, by kind",
			},
			[]string{"kind"},
		),

		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricecheck_source_fetch_duration_seconds",
				Help:    "Duration of data source fetches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		),

		BatchRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pricecheck_batch_runs_total",
				Help: "Total number of batch validations",
			},
		),

		BatchSKUFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pricecheck_batch_sku_failures_total",
				Help: "SKUs that failed inside a batch",
			},
		),

		BatchAccuracy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricecheck_batch_overall_accuracy",
				Help: "Pooled accuracy of the most recent batch with known accuracy (0.0 to 1.0)",
			},
		),

		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricecheck_batch_duration_seconds",
				Help:    "Duration of batch validations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Validations,
		m.ValidationDuration,
		m.DataWarnings,
		m.FetchDuration,
		m.BatchRuns,
		m.BatchSKUFailures,
		m.BatchAccuracy,
		m.BatchDuration,
	)

	return m
}

var _ validator.Recorder = (*Registry)(nil)

// ObserveValidation records one single-SKU validation.
func (m *Registry) ObserveValidation(outcome string, duration time.Duration) {
	m.Validations.WithLabelValues(outcome).Inc()
	m.ValidationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveWarnings counts skipped rows by kind.
func (m *Registry) ObserveWarnings(warnings []models.DataWarning) {
	for _, w := range warnings {
		m.DataWarnings.WithLabelValues(w.Kind).Inc()
	}
}

// ObserveFetch records a data source call.
func (m *Registry) ObserveFetch(kind string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FetchDuration.WithLabelValues(kind, result).Observe(duration.Seconds())
}

// ObserveBatch records a completed batch report.
func (m *Registry) ObserveBatch(report *validator.BatchReport) {
	m.BatchRuns.Inc()
	m.BatchSKUFailures.Add(float64(len(report.Errors)))
	m.BatchDuration.Observe(report.Duration.Seconds())
	if acc, ok := report.Overall.Get(); ok {
		m.BatchAccuracy.Set(acc)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.registry
}
