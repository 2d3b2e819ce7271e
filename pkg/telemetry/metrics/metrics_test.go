package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"datum-hq/soe/pkg/audit"
	"datum-hq/soe/pkg/config"
	"datum-hq/soe/pkg/plan"
	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/profile"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	_ engine.Observer            = (*Collector)(nil)
	_ plan.Observer              = (*Collector)(nil)
	_ profile.TransitionObserver = (*Collector)(nil)
	_ audit.Observer             = (*Collector)(nil)
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{Namespace: "test"}
}

func TestNewCollector(t *testing.T) {
	cfg := testConfig()
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)
	if collector.Registry() != registry {
		t.Error("Registry() did not return the supplied registry")
	}

	defaulted := NewCollector(nil, nil)
	if defaulted.config.Namespace != config.DefaultMetricsNamespace {
		t.Errorf("Namespace = %q, want %q", defaulted.config.Namespace, config.DefaultMetricsNamespace)
	}
	if defaulted.Registry() == nil {
		t.Error("Registry() = nil")
	}
}

func TestCollector_ObserveRun(t *testing.T) {
	c := NewCollector(testConfig(), nil)

	c.ObserveRun("space", 5, false, 0, 2*time.Millisecond)
	c.ObserveRun("space", 3, true, 2, time.Millisecond)
	c.ObserveRun("medical", 1, false, 1, time.Millisecond)

	rm := c.runMetrics
	if got := testutil.ToFloat64(rm.runsTotal.WithLabelValues("space", "clear")); got != 1 {
		t.Errorf("runs{space,clear} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rm.runsTotal.WithLabelValues("space", "blocked")); got != 1 {
		t.Errorf("runs{space,blocked} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rm.decisionsTotal.WithLabelValues("space")); got != 8 {
		t.Errorf("decisions{space} = %v, want 8", got)
	}
	if got := testutil.ToFloat64(rm.warningsTotal.WithLabelValues("space")); got != 2 {
		t.Errorf("warnings{space} = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(rm.runDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestCollector_Governance(t *testing.T) {
	c := NewCollector(testConfig(), nil)

	c.ObservePlanTransition("submit", "draft", "submitted")
	c.ObservePlanTransition("approve", "submitted", "approved")
	c.ObservePlanEdit(2)
	c.ObservePlanEdit(0)
	c.RecordProfileTransition("approve", "submitted", "approved")
	c.ObserveAudit("PASS")
	c.ObserveAudit("FAIL")
	c.ObserveAudit("PASS")

	gm := c.governanceMetrics
	if got := testutil.ToFloat64(gm.transitionsTotal.WithLabelValues("plan", "approve", "submitted", "approved")); got != 1 {
		t.Errorf("plan approve transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(gm.transitionsTotal.WithLabelValues("profile", "approve", "submitted", "approved")); got != 1 {
		t.Errorf("profile approve transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(gm.editsTotal); got != 2 {
		t.Errorf("edits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(gm.overridesTotal); got != 2 {
		t.Errorf("overrides = %v, want 2", got)
	}
	if got := testutil.ToFloat64(gm.auditChecksTotal.WithLabelValues("PASS")); got != 2 {
		t.Errorf("audit{PASS} = %v, want 2", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	off := false
	c := NewCollector(&config.MetricsConfig{Enabled: &off, Namespace: "test"}, nil)

	c.ObserveRun("space", 5, false, 0, time.Millisecond)
	c.ObservePlanEdit(3)
	c.ObserveAudit("PASS")

	if got := testutil.CollectAndCount(c.runMetrics.runsTotal); got != 0 {
		t.Errorf("runs series = %d, want 0", got)
	}
	if got := testutil.ToFloat64(c.governanceMetrics.editsTotal); got != 0 {
		t.Errorf("edits = %v, want 0", got)
	}
}

func TestCollector_IndustryCardinality(t *testing.T) {
	c := NewCollector(testConfig(), nil)
	c.cardinalityLimiter = NewCardinalityLimiter(2)

	c.ObserveRun("a", 1, false, 0, time.Millisecond)
	c.ObserveRun("b", 1, false, 0, time.Millisecond)
	c.ObserveRun("c", 1, false, 0, time.Millisecond)

	if got := testutil.ToFloat64(c.runMetrics.runsTotal.WithLabelValues(otherLabel, "clear")); got != 1 {
		t.Errorf("runs{other} = %v, want 1", got)
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)

	if !cl.Allow("a") || !cl.Allow("b") {
		t.Fatal("first two label sets should be allowed")
	}
	if cl.Allow("c") {
		t.Error("third label set allowed past limit")
	}
	if !cl.Allow("a") {
		t.Error("known label set rejected")
	}
	if cl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", cl.Count())
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(testConfig(), nil)
	c.ObserveRun("space", 1, true, 0, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `test_policy_runs_total{industry="space",outcome="blocked"} 1`) {
		t.Errorf("metrics output missing run counter:\n%s", body)
	}
}

func TestCollector_Mount(t *testing.T) {
	cfg := testConfig()
	cfg.Path = "/internal/metrics"
	c := NewCollector(cfg, nil)
	c.ObservePlanEdit(2)

	mux := http.NewServeMux()
	if got := c.Mount(mux, nil); got != "/internal/metrics" {
		t.Fatalf("Mount() = %q, want /internal/metrics", got)
	}

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/internal/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("scrape %d status = %d", i, rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, "test_plan_edits_total 1") {
			t.Errorf("scrape %d missing plan edit counter:\n%s", i, body)
		}
		if !strings.Contains(body, `promhttp_metric_handler_requests_total{code="200"}`) {
			t.Errorf("scrape %d missing handler request counter", i)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("default path status = %d, want 404", rec.Code)
	}
}

func TestCollector_MountDisabled(t *testing.T) {
	off := false
	c := NewCollector(&config.MetricsConfig{Enabled: &off, Path: "/metrics"}, nil)

	mux := http.NewServeMux()
	if got := c.Mount(mux, nil); got != "" {
		t.Errorf("Mount() = %q, want nothing mounted", got)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := NewCollector(testConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ObserveRun("space", 1, false, 0, time.Microsecond)
			c.ObservePlanEdit(1)
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(c.runMetrics.runsTotal.WithLabelValues("space", "clear")); got != 50 {
		t.Errorf("runs = %v, want 50", got)
	}
	if got := testutil.ToFloat64(c.governanceMetrics.overridesTotal); got != 50 {
		t.Errorf("overrides = %v, want 50", got)
	}
}
