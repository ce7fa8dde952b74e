package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)

	ObserveHTTP("GET", "/searches", 200, 0.001)
	ObserveUpstream("geometry_buffer", errors.New("boom"), 0.2)
	IncSearchRun("nearby", "selected")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"http_requests_total", "upstream_latency_seconds", "search_runs_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics payload missing %s; got:\n%s", name, body)
		}
	}
}

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(staleCompletionsTotal.WithLabelValues("buffer"))
	IncStaleCompletion("buffer")
	IncStaleCompletion("buffer")
	if got := testutil.ToFloat64(staleCompletionsTotal.WithLabelValues("buffer")); got != before+2 {
		t.Fatalf("stale completions=%v want %v", got, before+2)
	}

	SetSelectionSize("places", 3)
	if got := testutil.ToFloat64(selectionSize.WithLabelValues("places")); got != 3 {
		t.Fatalf("selection size=%v want 3", got)
	}
}
