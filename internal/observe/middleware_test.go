package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	// Metrics.
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Tracing.
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func TestMiddleware_CorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"
	tests := []struct {
		name        string
		traceparent string
		want        string // empty: any fresh 32-char trace id
	}{
		{name: "new trace"},
		{name: "continued trace", traceparent: "00-" + upstream + "-00f067aa0ba902b7-01", want: upstream},
	}
	for _, tt := range tests {
		var seen string
		handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = CorrelationID(r.Context())
		}))
		req := httptest.NewRequest("POST", "/start_bot", nil)
		if tt.traceparent != "" {
			req.Header.Set("traceparent", tt.traceparent)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if len(seen) != 32 {
			t.Errorf("%s: correlation id = %q, want 32 hex chars", tt.name, seen)
		}
		if tt.want != "" && seen != tt.want {
			t.Errorf("%s: correlation id = %q, want %q", tt.name, seen, tt.want)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != seen {
			t.Errorf("%s: X-Correlation-ID = %q, handler saw %q", tt.name, got, seen)
		}
	}
}

func TestMiddleware_SpanAttributes(t *testing.T) {
	m, _, exp := testSetup(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/status/999", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("response status = %d, want 404", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	// Outside a chi router the raw path stands in for the route.
	if spans[0].Name != "HTTP GET /status/999" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	attrs := map[string]bool{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)+"="+a.Value.Emit()] = true
	}
	for _, want := range []string{"http.response.status_code=404", "http.route=/status/999", "http.request.method=GET"} {
		if !attrs[want] {
			t.Errorf("span missing attribute %s", want)
		}
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader, _ := testSetup(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/start_bot", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "talkinghead.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("data = %+v", met.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	method, _ := dp.Attributes.Value("method")
	path, _ := dp.Attributes.Value("path")
	if method.AsString() != "POST" || path.AsString() != "/start_bot" {
		t.Errorf("attributes = %v", dp.Attributes.ToSlice())
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m, reader, exp := testSetup(t)

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/status/{pid}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, pid := range []string{"101", "102"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/status/"+pid, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	hist, ok := findMetric(rm, "talkinghead.http.request.duration").Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Fatalf("want one series with 2 samples, got %+v", hist.DataPoints)
	}
	if v, _ := hist.DataPoints[0].Attributes.Value("path"); v.AsString() != "/status/{pid}" {
		t.Errorf("path attribute = %q, want /status/{pid}", v.AsString())
	}
	spans := exp.GetSpans()
	if len(spans) != 2 || spans[0].Name != "HTTP GET /status/{pid}" {
		t.Errorf("spans = %v", spans)
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	m, _, exp := testSetup(t)

	tests := []struct {
		status int
		want   codes.Code
	}{
		{status: http.StatusServiceUnavailable, want: codes.Error},
		{status: http.StatusTooManyRequests, want: codes.Unset},
	}
	for _, tt := range tests {
		exp.Reset()
		handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/start_bot", nil))

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("status %d: spans = %d, want 1", tt.status, len(spans))
		}
		if spans[0].Status.Code != tt.want {
			t.Errorf("status %d: span status = %v, want %v", tt.status, spans[0].Status.Code, tt.want)
		}
	}
}

func TestMiddleware_QuietRoutesAndRequestID(t *testing.T) {
	m, _, _ := testSetup(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Middleware(m, WithQuietRoutes("/healthz")))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {})
	r.Get("/status/{pid}", func(w http.ResponseWriter, _ *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/status/7", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "level=DEBUG") || !strings.Contains(lines[0], "route=/healthz") {
		t.Errorf("probe line = %s", lines[0])
	}
	if !strings.Contains(lines[1], "level=INFO") || !strings.Contains(lines[1], "request_id=") {
		t.Errorf("status line = %s", lines[1])
	}
}
