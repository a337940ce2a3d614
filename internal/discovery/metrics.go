package discovery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricSimilarityDuration = "descriptor_similarity_duration_seconds"
	MetricSimilarityMatches  = "descriptor_similarity_matches"
	MetricSimilarityErrors   = "descriptor_similarity_errors_total"
)

// Metrics contains Prometheus metrics for similarity lookups.
type Metrics struct {
	duration *prometheus.HistogramVec
	matches  *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricSimilarityDuration,
			Help:    "Histogram of descriptor similarity lookup duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"operation"}),
		matches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricSimilarityMatches,
			Help:    "Histogram of matches returned per similarity lookup",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSimilarityErrors,
			Help: "Total number of failed similarity lookups",
		}, []string{"operation"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Observe records one lookup.
func (m *Metrics) Observe(operation string, duration time.Duration, matches int, err error) {
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.errors.WithLabelValues(operation).Inc()
		return
	}
	m.matches.WithLabelValues(operation).Observe(float64(matches))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.duration, m.matches, m.errors}
}
