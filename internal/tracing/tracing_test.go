package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup("corrector-test", "")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording span from the SDK provider")
	}
}

func TestMiddlewareContinuesTrace(t *testing.T) {
	shutdown, err := Setup("corrector-test", "")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var got trace.SpanContext
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.TraceID().String() != traceID {
		t.Errorf("trace ID = %s, want %s", got.TraceID(), traceID)
	}
}

func TestMiddlewareNamesSpanByRoute(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/batches/{batchID}", func(w http.ResponseWriter, r *http.Request) {})

	for _, id := range []string{"b1", "b2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/batches/"+id, nil))
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	for _, s := range spans {
		if s.Name() != "GET /api/batches/{batchID}" {
			t.Errorf("span name = %q", s.Name())
		}
	}
}
