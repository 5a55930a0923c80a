package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)
	return m, reader, useTestTracer(t)
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	var inner string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = CorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if inner == "" {
		t.Fatal("handler context carries no trace")
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inner {
		t.Errorf("X-Correlation-ID = %q, want %q", got, inner)
	}
}

func TestMiddleware_PropagatesTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var inner string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/readyz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if inner != traceID {
		t.Errorf("trace ID = %q, want %q", inner, traceID)
	}
}

func TestMiddleware_RecordsDurationAndStatus(t *testing.T) {
	m, reader, exp := testSetup(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	handler := Middleware(m)(mux)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))

	dp := onlyDurationPoint(t, reader)
	for key, want := range map[string]string{"method": "GET", "route": "GET /readyz", "status": "503"} {
		v, ok := dp.Attributes.Value(attributeKey(key))
		if !ok || v.AsString() != want {
			t.Errorf("attribute %s = %v, want %s", key, v.AsString(), want)
		}
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "HTTP GET /readyz" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var found bool
	for _, a := range spans[0].Attributes {
		if (a.Key == "http.response.status_code" || a.Key == "http.status_code") && a.Value.AsInt64() == 503 {
			found = true
		}
	}
	if !found {
		t.Errorf("span missing status code 503: %v", spans[0].Attributes)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m, reader, _ := testSetup(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(http.ResponseWriter, *http.Request) {})
	Middleware(m)(mux).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/no/such/page", nil))

	dp := onlyDurationPoint(t, reader)
	if v, _ := dp.Attributes.Value(attributeKey("route")); v.AsString() != unmatchedRoute {
		t.Errorf("route = %q, want %q", v.AsString(), unmatchedRoute)
	}
	if v, _ := dp.Attributes.Value(attributeKey("status")); v.AsString() != "404" {
		t.Errorf("status = %q, want 404", v.AsString())
	}
}

func onlyDurationPoint(t *testing.T, reader *sdkmetric.ManualReader) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "murmur.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("expected one histogram data point, got %#v", met.Data)
	}
	return hist.DataPoints[0]
}
