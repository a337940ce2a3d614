package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names exported by the HTTP middleware.
const (
	MetricRateLimitRequests     = "rate_limit_requests_total"
	MetricRateLimitBlocked      = "rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "rate_limit_redis_errors_total"
	MetricIdempotencyRequests   = "idempotency_requests_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
)

// Idempotency outcomes recorded by IncIdempotency.
const (
	IdempotencyStored   = "stored"
	IdempotencyReplayed = "replayed"
	IdempotencyReused   = "reused"
	IdempotencyPending  = "in_progress"
)

var (
	rateLimitLabels = []string{"scope", "key_type"}
	httpLabels      = []string{"method", "path", "status"}
	sizeBuckets     = prometheus.ExponentialBuckets(100, 10, 6) // 100 B to 10 MB
)

// Metrics holds the Prometheus collectors shared by the middleware chain.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	rateLimitRequests    *prometheus.CounterVec
	rateLimitBlocked     *prometheus.CounterVec
	rateLimitRedisErrors prometheus.Counter
	idempotency          *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestSize      *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
}

// NewMetrics creates unregistered collectors; call Register to expose them.
func NewMetrics() *Metrics {
	counter := func(name, help string, labels []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, httpLabels)
	}

	return &Metrics{
		rateLimitRequests: counter(MetricRateLimitRequests, "Rate limit checks by scope", rateLimitLabels),
		rateLimitBlocked:  counter(MetricRateLimitBlocked, "Requests rejected by the rate limiter by scope", rateLimitLabels),
		rateLimitRedisErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRateLimitRedisErrors,
			Help: "Redis errors during rate limiting (fail-open events)",
		}),
		idempotency:         counter(MetricIdempotencyRequests, "Requests carrying an Idempotency-Key by outcome", []string{"outcome"}),
		httpRequestDuration: histogram(MetricHTTPRequestDuration, "HTTP request duration in seconds", []float64{0.005, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0}),
		httpRequestsTotal:   counter(MetricHTTPRequestsTotal, "Total number of HTTP requests", httpLabels),
		httpRequestSize:     histogram(MetricHTTPRequestSizeBytes, "HTTP request size in bytes", sizeBuckets),
		httpResponseSize:    histogram(MetricHTTPResponseSizeBytes, "HTTP response size in bytes", sizeBuckets),
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

// IncRateLimitRequests counts one rate limit check. keyType is the key prefix (e.g. "ip").
func (m *Metrics) IncRateLimitRequests(scope, keyType string) {
	if m != nil {
		m.rateLimitRequests.WithLabelValues(scope, keyType).Inc()
	}
}

// IncRateLimitBlocked counts one rejected request.
func (m *Metrics) IncRateLimitBlocked(scope, keyType string) {
	if m != nil {
		m.rateLimitBlocked.WithLabelValues(scope, keyType).Inc()
	}
}

// IncRateLimitRedisErrors counts a Redis failure the limiter failed open on.
func (m *Metrics) IncRateLimitRedisErrors() {
	if m != nil {
		m.rateLimitRedisErrors.Inc()
	}
}

// IncIdempotency counts one keyed request by outcome.
func (m *Metrics) IncIdempotency(outcome string) {
	if m != nil {
		m.idempotency.WithLabelValues(outcome).Inc()
	}
}

// ObserveHTTPRequest records one served request. path must already be normalized.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration float64, requestSize, responseSize int64) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "path": path, "status": status}
	m.httpRequestDuration.With(labels).Observe(duration)
	m.httpRequestsTotal.With(labels).Inc()
	m.httpRequestSize.With(labels).Observe(float64(requestSize))
	m.httpResponseSize.With(labels).Observe(float64(responseSize))
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitRequests,
		m.rateLimitBlocked,
		m.rateLimitRedisErrors,
		m.idempotency,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.httpRequestSize,
		m.httpResponseSize,
	}
}
