package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/search", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "mapsearch_build_info") || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestObserveFilter_CountsFeaturesOnlyOnSuccess(t *testing.T) {
	in := testutil.ToFloat64(filterFeatures.WithLabelValues("in"))
	out := testutil.ToFloat64(filterFeatures.WithLabelValues("out"))
	errs := testutil.ToFloat64(filterEvaluations.WithLabelValues("error"))

	ObserveFilter(nil, 3*time.Millisecond, 10, 4)
	ObserveFilter(errors.New("boom"), time.Millisecond, 99, 0)

	if got := testutil.ToFloat64(filterFeatures.WithLabelValues("in")) - in; got != 10 {
		t.Fatalf("in delta=%v want 10", got)
	}
	if got := testutil.ToFloat64(filterFeatures.WithLabelValues("out")) - out; got != 4 {
		t.Fatalf("out delta=%v want 4", got)
	}
	if got := testutil.ToFloat64(filterEvaluations.WithLabelValues("error")) - errs; got != 1 {
		t.Fatalf("error delta=%v want 1", got)
	}
}

func TestInit_ExposesOnDedicatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)
	Init(reg) // second call must not panic

	IncStateDecode("ok")
	IncStaleResult()

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("metrics scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, `state_decode_total{outcome="ok"}`) {
		t.Fatalf("missing state_decode_total sample:\n%s", body)
	}
	if !strings.Contains(body, "filter_stale_results_total") {
		t.Fatalf("missing filter_stale_results_total:\n%s", body)
	}
}
