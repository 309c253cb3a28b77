package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	jobmetrics "github.com/odyssey-erp/consolbatch/internal/jobs"
	"github.com/odyssey-erp/consolbatch/internal/pipeline"
)

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	jobs.ObserveUnit(pipeline.Outcome{Status: pipeline.StatusSuccess})

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `consolbatch_unit_pipelines_total{stage="none",status="success"} 1`) {
		t.Fatalf("expected unit counter, got: %s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors, got: %s", body)
	}
}

func TestRouterRecordsRequests(t *testing.T) {
	metrics := NewMetrics()
	handler := chi.NewRouter()
	handler.Use(metrics.Middleware)
	handler.Method(http.MethodGet, "/metrics", metrics.Handler())
	handler.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	handler.ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metricsRR.Body.String()
	if !strings.Contains(body, `consolbatch_http_requests_total{code="418",route="/health"} 1`) {
		t.Fatalf("expected request to be recorded, got: %s", body)
	}
	if !strings.Contains(body, `consolbatch_http_request_duration_seconds_bucket{route="/health"`) {
		t.Fatalf("expected duration histogram, got: %s", body)
	}
}

func TestNilMetricsHandlerUnavailable(t *testing.T) {
	var metrics *Metrics
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
