package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ObserveDissolve(t *testing.T) {
	m := NewMetrics()
	m.ObserveDissolve("", "ok", 10*time.Millisecond, 3)
	m.ObserveDissolve("coverage", "VALIDATION", time.Millisecond, 0)

	if got := testutil.ToFloat64(m.dissolves.WithLabelValues("unary", "ok")); got != 1 {
		t.Errorf("unary/ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.dissolves.WithLabelValues("coverage", "VALIDATION")); got != 1 {
		t.Errorf("coverage/VALIDATION = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.groups); n != 1 {
		t.Errorf("groups histogram series = %d", n)
	}
}

func TestMetrics_WarningsCacheInFlight(t *testing.T) {
	m := NewMetrics()
	m.ObserveWarning("reducer")
	m.ObserveWarning("reducer")
	m.ObserveWarning("engine")
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)

	if got := testutil.ToFloat64(m.warnings.WithLabelValues("reducer")); got != 2 {
		t.Errorf("reducer warnings = %v", got)
	}
	if got := testutil.ToFloat64(m.cacheEvents.WithLabelValues("miss")); got != 2 {
		t.Errorf("cache misses = %v", got)
	}

	done := m.TrackInFlight()
	if got := testutil.ToFloat64(m.inFlight); got != 1 {
		t.Errorf("in flight = %v", got)
	}
	done()
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Errorf("in flight after done = %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveDissolve("unary", "ok", time.Millisecond, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `dissolve_requests_total{method="unary",status="ok"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("metrics output missing runtime collector")
	}
}
