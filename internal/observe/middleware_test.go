package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func testMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// probeMux mimics the huddle HTTP server: a probe, a failing probe and a
// scrape endpoint.
func probeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) })
	return mux
}

func serve(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Spans(t *testing.T) {
	exp := useTestTracer(t)
	h := Middleware(nil)(probeMux())

	tests := []struct {
		path       string
		wantName   string
		wantStatus int64
	}{
		{"/healthz", "GET /healthz", 200},
		{"/readyz", "GET /readyz", 503},
		{"/wp-login.php", routeUnmatched, 404},
	}
	for _, tt := range tests {
		exp.Reset()
		rec := serve(h, tt.path, nil)
		if rec.Code != int(tt.wantStatus) {
			t.Errorf("GET %s status = %d, want %d", tt.path, rec.Code, tt.wantStatus)
		}

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("GET %s: spans = %d, want 1", tt.path, len(spans))
		}
		if spans[0].Name != tt.wantName {
			t.Errorf("GET %s span name = %q, want %q", tt.path, spans[0].Name, tt.wantName)
		}
		var status int64
		var route string
		for _, a := range spans[0].Attributes {
			switch string(a.Key) {
			case "http.response.status_code":
				status = a.Value.AsInt64()
			case "http.route":
				route = a.Value.AsString()
			}
		}
		if status != tt.wantStatus {
			t.Errorf("GET %s span status_code = %d, want %d", tt.path, status, tt.wantStatus)
		}
		if route != tt.wantName {
			t.Errorf("GET %s span http.route = %q, want %q", tt.path, route, tt.wantName)
		}
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	useTestTracer(t)

	var inHandler string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
	})
	h := Middleware(nil)(mux)

	t.Run("new trace", func(t *testing.T) {
		rec := serve(h, "/healthz", nil)
		if len(inHandler) != 32 {
			t.Fatalf("correlation ID = %q, want 32 hex characters", inHandler)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != inHandler {
			t.Errorf("X-Correlation-ID = %q, want %q", got, inHandler)
		}
		if got := rec.Header().Get("traceparent"); !strings.Contains(got, inHandler) {
			t.Errorf("traceparent = %q, want it to carry %s", got, inHandler)
		}
	})

	t.Run("continues incoming trace", func(t *testing.T) {
		const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
		rec := serve(h, "/healthz", http.Header{
			"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
		})
		if inHandler != traceID {
			t.Errorf("correlation ID = %q, want %q", inHandler, traceID)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
			t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
		}
	})
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	useTestTracer(t)
	m, reader := testMetrics(t)
	h := Middleware(m)(probeMux())

	for _, path := range []string{"/healthz", "/healthz", "/metrics", "/a", "/b"} {
		serve(h, path, nil)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "huddle.http.request.duration")
	if met == nil {
		t.Fatal("huddle.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data = %T, want Histogram[float64]", met.Data)
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		method, _ := dp.Attributes.Value("method")
		if method.AsString() != http.MethodGet {
			t.Errorf("method = %q, want GET", method.AsString())
		}
		counts[path.AsString()] += dp.Count
	}
	want := map[string]uint64{"GET /healthz": 2, "GET /metrics": 1, routeUnmatched: 2}
	if len(counts) != len(want) {
		t.Errorf("series = %v, want %v", counts, want)
	}
	for path, n := range want {
		if counts[path] != n {
			t.Errorf("count[%q] = %d, want %d", path, counts[path], n)
		}
	}
}
