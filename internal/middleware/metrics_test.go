package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func singleCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	return m.GetCounter().GetValue()
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if got := len(m.Collectors()); got != 8 {
		t.Errorf("Collectors() returned %d collectors, want 8", got)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	m.IncRateLimitRequests("search", "ip")
	m.IncRateLimitRequests("search", "ip")
	m.IncRateLimitRequests("global", "ip")
	m.IncRateLimitBlocked("search", "ip")
	m.IncRateLimitRedisErrors()
	m.IncIdempotency(IdempotencyReplayed)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{MetricRateLimitRequests, map[string]string{"scope": "search", "key_type": "ip"}, 2},
		{MetricRateLimitRequests, map[string]string{"scope": "global", "key_type": "ip"}, 1},
		{MetricRateLimitBlocked, map[string]string{"scope": "search", "key_type": "ip"}, 1},
		{MetricRateLimitRedisErrors, nil, 1},
		{MetricIdempotencyRequests, map[string]string{"outcome": IdempotencyReplayed}, 1},
		{MetricIdempotencyRequests, map[string]string{"outcome": IdempotencyStored}, 0},
	}
	for _, tt := range tests {
		if got := counterValue(t, reg, tt.name, tt.labels); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.IncRateLimitRequests("search", "ip")
	m.IncRateLimitBlocked("search", "ip")
	m.IncRateLimitRedisErrors()
	m.IncIdempotency(IdempotencyStored)
	m.ObserveHTTPRequest("GET", "/health", "200", 0.01, 0, 10)
}
