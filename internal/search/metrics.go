package search

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricSearchDuration = "descriptor_search_duration_seconds"
	MetricSearchResults  = "descriptor_search_results"
	MetricSearchSlow     = "descriptor_search_slow_total"
	MetricSearchErrors   = "descriptor_search_errors_total"
)

// Metrics contains Prometheus metrics for descriptor search.
// All operations are thread-safe.
type Metrics struct {
	duration *prometheus.HistogramVec
	results  *prometheus.HistogramVec
	slow     *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricSearchDuration,
			Help:    "Histogram of descriptor search call duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"operation"}),
		results: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricSearchResults,
			Help:    "Histogram of results returned per descriptor search call",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		}, []string{"operation"}),
		slow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSearchSlow,
			Help: "Total number of descriptor search calls over the latency budget",
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSearchErrors,
			Help: "Total number of failed descriptor search calls",
		}, []string{"operation"}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Observe records one engine call.
func (m *Metrics) Observe(operation string, duration time.Duration, results int, slow bool, err error) {
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.errors.WithLabelValues(operation).Inc()
		return
	}
	m.results.WithLabelValues(operation).Observe(float64(results))
	if slow {
		m.slow.WithLabelValues(operation).Inc()
	}
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.duration,
		m.results,
		m.slow,
		m.errors,
	}
}
