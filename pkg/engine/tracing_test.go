package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/goclaw/simnet/pkg/wiring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRuntimeTracing_RunAndModuleSpans(t *testing.T) {
	recorder, shutdown := setEngineTracingProvider(t)
	defer shutdown()

	eng := testEngine(Config{})
	c := &collector{}
	net := chain(t, source(1, 2), relay, c.sink)
	if _, err := eng.Run(context.Background(), net); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	spans := recorder.Ended()
	if got := countEngineSpans(spans, spanModuleRun); got != 3 {
		t.Fatalf("expected 3 %q spans, got %d", spanModuleRun, got)
	}
	run := findEngineSpan(spans, spanSimulationRun)
	if run == nil {
		t.Fatalf("expected span %q", spanSimulationRun)
	}
	for _, s := range spans {
		if s.Name() == spanModuleRun && s.Parent().SpanID() != run.SpanContext().SpanID() {
			t.Errorf("module span not parented to run span")
		}
	}
}

func TestRuntimeTracing_FailedModuleStatus(t *testing.T) {
	recorder, shutdown := setEngineTracingProvider(t)
	defer shutdown()

	eng := testEngine(Config{})
	c := &collector{}
	mid := func(context.Context, *wiring.PortSet) error { return errors.New("boom") }
	net := chain(t, source(), mid, c.sink)
	if _, err := eng.Run(context.Background(), net); err == nil {
		t.Fatal("expected run error")
	}

	spans := recorder.Ended()
	run := findEngineSpan(spans, spanSimulationRun)
	if run == nil || run.Status().Code != codes.Error {
		t.Fatalf("expected errored %q span", spanSimulationRun)
	}
	errored := 0
	for _, s := range spans {
		if s.Name() == spanModuleRun && s.Status().Code == codes.Error {
			errored++
		}
	}
	if errored != 1 {
		t.Errorf("expected 1 errored module span, got %d", errored)
	}
}

func setEngineTracingProvider(t *testing.T) (*tracetest.SpanRecorder, func()) {
	t.Helper()

	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return recorder, func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	}
}

func findEngineSpan(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, span := range spans {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

func countEngineSpans(spans []sdktrace.ReadOnlySpan, name string) int {
	n := 0
	for _, span := range spans {
		if span.Name() == name {
			n++
		}
	}
	return n
}
