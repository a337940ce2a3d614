package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{ServiceName: "descriptor-api"}, nil)
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{name: "valid", cfg: Config{ServiceName: "descriptor-api", SamplingRate: 0.5, ExporterType: ExporterOTLPGRPC}},
		{name: "default exporter", cfg: Config{ServiceName: "descriptor-api", SamplingRate: 1}},
		{name: "missing service name", cfg: Config{SamplingRate: 0.1}, want: ErrMissingServiceName},
		{name: "negative rate", cfg: Config{ServiceName: "descriptor-api", SamplingRate: -0.1}, want: ErrInvalidSamplingRate},
		{name: "rate above one", cfg: Config{ServiceName: "descriptor-api", SamplingRate: 1.5}, want: ErrInvalidSamplingRate},
		{name: "unknown exporter", cfg: Config{ServiceName: "descriptor-api", ExporterType: "zipkin"}, want: ErrUnsupportedExporter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ExporterType: "zipkin", ServiceName: "x"}, nil)
	if !errors.Is(err, ErrUnsupportedExporter) {
		t.Fatalf("expected ErrUnsupportedExporter, got %v", err)
	}
}

func TestNewProvider_ValidConfig(t *testing.T) {
	tests := []struct {
		name         string
		exporterType string
		samplingRate float64
		endpoint     string
	}{
		{name: "otlp-http", exporterType: ExporterOTLPHTTP, samplingRate: 0.1, endpoint: "localhost:4318"},
		{name: "otlp-grpc", exporterType: ExporterOTLPGRPC, samplingRate: 1.0, endpoint: "localhost:4317"},
		{name: "default exporter", samplingRate: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(context.Background(), Config{
				ServiceName:  "descriptor-api",
				Enabled:      true,
				Environment:  "test",
				ExporterType: tt.exporterType,
				OTLPEndpoint: tt.endpoint,
				SamplingRate: tt.samplingRate,
				InsecureMode: true,
			}, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !provider.IsEnabled() {
				t.Error("expected tracing to be enabled")
			}
			if provider.Tracer("descriptors") == nil {
				t.Error("expected non-nil tracer")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				t.Errorf("unexpected shutdown error: %v", err)
			}
		})
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "ParentBased{root:AlwaysOnSampler"},
		{0, "ParentBased{root:AlwaysOffSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		got := Sampler(tt.rate).Description()
		if len(got) < len(tt.want) || got[:len(tt.want)] != tt.want {
			t.Errorf("Sampler(%v) = %s, want prefix %s", tt.rate, got, tt.want)
		}
	}
	var _ sdktrace.Sampler = Sampler(0.5)
}

func TestProvider_Shutdown_Nil(t *testing.T) {
	provider := &Provider{}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected error on shutdown with nil tp: %v", err)
	}
}
