package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// collectSeries drains a collector's current child series.
func collectSeries(t *testing.T, c prometheus.Collector) []*dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	var series []*dto.Metric
	for m := range ch {
		var out dto.Metric
		if err := m.Write(&out); err != nil {
			t.Fatalf("failed to read metric: %v", err)
		}
		series = append(series, &out)
	}
	return series
}

// TestMiddlewareUsesRoutePattern checks that path parameters collapse into
// one series per route: many distinct ids must not mint many label values.
func TestMiddlewareUsesRoutePattern(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/emails/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 4; i++ {
		req := httptest.NewRequest("GET", fmt.Sprintf("/api/emails/%d", i), nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	series := collectSeries(t, HTTPRequestsTotal)
	if len(series) != 1 {
		t.Fatalf("expected 1 series for 4 ids on one route, got %d", len(series))
	}
	if got := series[0].GetCounter().GetValue(); got != 4 {
		t.Errorf("expected counter value 4, got %v", got)
	}

	for _, label := range series[0].GetLabel() {
		if label.GetName() == "path" && label.GetValue() != "/api/emails/{id}" {
			t.Errorf("path label should be the route pattern, got %q", label.GetValue())
		}
	}
}

// TestMiddlewareDistinctRoutes checks that separate routes still get
// separate series.
func TestMiddlewareDistinctRoutes(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	r.Get("/api/emails/{id}", ok)
	r.Get("/api/inboxes/{inbox}/emails", ok)

	for _, path := range []string{"/api/emails/1", "/api/inboxes/alice/emails"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	if series := collectSeries(t, HTTPRequestsTotal); len(series) != 2 {
		t.Errorf("expected 2 series for 2 routes, got %d", len(series))
	}
}

// TestGetRoutePatternFallback checks the raw path is used outside chi.
func TestGetRoutePatternFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/plain/path", nil)

	if got := getRoutePattern(req); got != "/plain/path" {
		t.Errorf("expected raw path fallback, got %q", got)
	}
}

func TestMiddlewareCapturesStatusCode(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/missing", nil))

	series := collectSeries(t, HTTPRequestsTotal)
	if len(series) != 1 {
		t.Fatalf("expected 1 series, got %d", len(series))
	}
	found := false
	for _, label := range series[0].GetLabel() {
		if label.GetName() == "status" && label.GetValue() == "404" {
			found = true
		}
	}
	if !found {
		t.Error("status label should record the handler's code")
	}
}
