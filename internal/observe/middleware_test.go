package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented wraps next in the middleware with an in-test tracer provider
// and manual metric reader, and returns handles for inspecting both.
func instrumented(t *testing.T, next http.Handler) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	return Middleware(m)(next), reader, exp
}

func serve(handler http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_EchoesTraceID(t *testing.T) {
	var seen string
	handler, _, _ := instrumented(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	rec := serve(handler, "GET", "/log", nil)

	if len(seen) != 32 {
		t.Fatalf("handler saw correlation ID %q, want a 32-char trace ID", seen)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
	}
}

func TestMiddleware_HonorsIncomingTraceparent(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var seen string
	handler, _, _ := instrumented(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	hdr := http.Header{}
	hdr.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := serve(handler, "GET", "/log", hdr)

	if seen != traceID {
		t.Errorf("handler correlation ID = %q, want the propagated %q", seen, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_RecordsRequestHistogram(t *testing.T) {
	handler, reader, _ := instrumented(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve(handler, "GET", "/healthz", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	m := findMetric(rm, "avatarchat.http.request.duration")
	if m == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("metric data = %T with no points, want a histogram", m.Data)
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("histogram count = %d, want 1", dp.Count)
	}
	var method, path string
	for _, kv := range dp.Attributes.ToSlice() {
		switch string(kv.Key) {
		case "method":
			method = kv.Value.AsString()
		case "path":
			path = kv.Value.AsString()
		}
	}
	if method != "GET" || path != "/healthz" {
		t.Errorf("attributes method=%q path=%q, want GET /healthz", method, path)
	}
}

func TestMiddleware_SpanCarriesNameAndStatus(t *testing.T) {
	handler, _, exp := instrumented(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := serve(handler, "GET", "/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /missing" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var status int64 = -1
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != 404 {
		t.Errorf("span http.response.status_code = %d, want 404", status)
	}
}

func TestMiddleware_WriterSupportsResponseController(t *testing.T) {
	// The feed's websocket upgrade hijacks the connection through
	// http.ResponseController; the wrapping writer must not hide it.
	var flushErr error
	handler, _, _ := instrumented(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flushErr = http.NewResponseController(w).Flush()
	}))

	serve(handler, "GET", "/feed", nil)
	if flushErr != nil {
		t.Errorf("Flush through the wrapped writer failed: %v", flushErr)
	}
}
