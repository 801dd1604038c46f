package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	jobmetrics "github.com/odyssey-erp/consolidation/internal/jobs"
)

const workingRoute = "/consol/groups/{group}/periods/{period}/working"

func TestMetricsEndpointSharesRegistry(t *testing.T) {
	metrics := NewMetrics()
	_ = jobmetrics.NewMetrics(metrics.Registerer()).Track("consol:regenerate").End(nil)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	for _, family := range []string{"odyssey_jobs_total", "go_goroutines", "odyssey_http_requests_in_flight"} {
		if !strings.Contains(rec.Body.String(), family) {
			t.Fatalf("expected %s in exposition", family)
		}
	}

	var missing *Metrics
	rec = httptest.NewRecorder()
	missing.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil metrics should answer 503, got %d", rec.Code)
	}
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	metrics := NewMetrics()
	var inFlight float64

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get(workingRoute, func(w http.ResponseWriter, _ *http.Request) {
		inFlight = testutil.ToFloat64(metrics.inFlight)
		w.WriteHeader(http.StatusTeapot)
	})
	r.Post("/consol/groups/{group}/periods/{period}/regenerate", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})

	requests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/consol/groups/7/periods/2024-03/working", http.StatusTeapot},
		{http.MethodGet, "/consol/groups/8/periods/2024-04/working", http.StatusTeapot},
		{http.MethodPost, "/consol/groups/7/periods/2024-03/regenerate", http.StatusOK},
	}
	for _, req := range requests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(req.method, req.path, nil))
		if rec.Code != req.want {
			t.Fatalf("%s %s: status %d, want %d", req.method, req.path, rec.Code, req.want)
		}
	}

	if inFlight != 1 {
		t.Fatalf("expected one request in flight inside the handler, got %v", inFlight)
	}
	if got := testutil.ToFloat64(metrics.inFlight); got != 0 {
		t.Fatalf("in-flight gauge should return to zero, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.requestsTotal.WithLabelValues(http.MethodGet, workingRoute, "418")); got != 2 {
		t.Fatalf("expected both working reads under one pattern, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.requestsTotal.WithLabelValues(http.MethodPost, "/consol/groups/{group}/periods/{period}/regenerate", "200")); got != 1 {
		t.Fatalf("implicit 200 not recorded, got %v", got)
	}
	if n := testutil.CollectAndCount(metrics.requestDuration); n != 2 {
		t.Fatalf("expected duration series per method and route, got %d", n)
	}
}

func TestRoutePatternWithoutRouter(t *testing.T) {
	if got := routePattern(httptest.NewRequest(http.MethodGet, "/healthz", nil)); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}
