package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolidation/internal/observability"
)

func testRouter() http.Handler {
	cfg := &Config{AppEnv: "development", RateLimit: 100, CORSOrigins: []string{"https://finance.example.com"}}
	return NewRouter(RouterParams{Config: cfg, Metrics: observability.NewMetrics()})
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouterUnknownRouteIsProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestRouterCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/consol/checks", nil)
	req.Header.Set("Origin", "https://finance.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, req)

	require.Equal(t, "https://finance.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterExposesMetrics(t *testing.T) {
	router := testRouter()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `odyssey_http_requests_total{code="200",method="GET",route="/healthz"}`), rec.Body.String())
}
