package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordSpans installs a recording provider for the duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attrMap(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		table     string
		operation DBOperation
		wantName  string
	}{
		{"descriptors", DBOperationSearch, "search descriptors"},
		{"descriptors", DBOperationSimilarity, "similarity descriptors"},
		{"descriptors", DBOperationInsert, "insert descriptors"},
		{"schema_migrations", DBOperationExec, "exec schema_migrations"},
		{"", DBOperationQuery, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			rec := recordSpans(t)

			_, endSpan := StartDBSpan(context.Background(), tt.table, tt.operation)
			endSpan(nil)

			spans := rec.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			span := spans[0]
			if span.Name() != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name(), tt.wantName)
			}
			if span.SpanKind() != trace.SpanKindClient {
				t.Errorf("span kind = %v, want client", span.SpanKind())
			}

			attrs := attrMap(span)
			if attrs["db.system"].AsString() != "postgresql" {
				t.Errorf("db.system = %q", attrs["db.system"].AsString())
			}
			if attrs["db.operation"].AsString() != string(tt.operation) {
				t.Errorf("db.operation = %q, want %q", attrs["db.operation"].AsString(), tt.operation)
			}
			table, hasTable := attrs["db.sql.table"]
			if hasTable != (tt.table != "") || (hasTable && table.AsString() != tt.table) {
				t.Errorf("db.sql.table = %v (present %v), want %q", table.AsString(), hasTable, tt.table)
			}
			if span.Status().Code == codes.Error {
				t.Error("successful operation must not set error status")
			}
		})
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	starters := map[string]func(context.Context) (context.Context, func(error)){
		"db": func(ctx context.Context) (context.Context, func(error)) {
			return StartDBSpan(ctx, "descriptors", DBOperationSearch)
		},
		"general": func(ctx context.Context) (context.Context, func(error)) {
			return StartSpan(ctx, "search.descriptors")
		},
	}

	for name, start := range starters {
		t.Run(name, func(t *testing.T) {
			rec := recordSpans(t)

			_, endSpan := start(context.Background())
			endSpan(errors.New("statement timeout"))

			span := rec.Ended()[0]
			if span.Status().Code != codes.Error || span.Status().Description != "statement timeout" {
				t.Errorf("status = %+v, want error with description", span.Status())
			}
			var sawException bool
			for _, ev := range span.Events() {
				if ev.Name == "exception" {
					sawException = true
				}
			}
			if !sawException {
				t.Error("expected the error to be recorded as an exception event")
			}
		})
	}
}

func TestStartSpan_Nesting(t *testing.T) {
	rec := recordSpans(t)

	ctx, endParent := StartSpan(context.Background(), "search.browse")
	_, endChild := StartSpan(ctx, "search.facets")
	endChild(nil)
	endParent(nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("child span is not parented to search.browse")
	}
	if parent.InstrumentationScope().Name != TracerName {
		t.Errorf("tracer name = %q, want %q", parent.InstrumentationScope().Name, TracerName)
	}
}

func TestSpanAnnotations(t *testing.T) {
	rec := recordSpans(t)

	ctx, endSpan := StartSpan(context.Background(), "search.facets")
	AddEvent(ctx, "facet_computed", attribute.String("facet.dimension", "skill_area"), attribute.Int("facet.buckets", 3))
	SetAttributes(ctx, attribute.String("search.query", "safety"))
	endSpan(nil)

	span := rec.Ended()[0]
	if got := attrMap(span)["search.query"].AsString(); got != "safety" {
		t.Errorf("search.query = %q, want safety", got)
	}
	events := span.Events()
	if len(events) != 1 || events[0].Name != "facet_computed" {
		t.Fatalf("unexpected events %+v", events)
	}
	if len(events[0].Attributes) != 2 {
		t.Errorf("expected 2 event attributes, got %d", len(events[0].Attributes))
	}
}

func TestHelpers_WithoutActiveSpan(t *testing.T) {
	// No span in context: annotations must be silently dropped.
	AddEvent(context.Background(), "orphan")
	SetAttributes(context.Background(), attribute.Bool("orphan", true))
}
