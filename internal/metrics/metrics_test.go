package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AddFetched(7)
	m.AddFiltered("dedup", 2)
	m.IncSelectorPath("fallback")
	m.IncCache(true)
	m.IncCache(false)
	m.IncCache(false)

	if got := testutil.ToFloat64(m.CandidatesFetched); got != 7 {
		t.Errorf("fetched = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.CandidatesFiltered.WithLabelValues("dedup")); got != 2 {
		t.Errorf("filtered = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("misses = %v, want 2", got)
	}
}

func TestHealthTransitions(t *testing.T) {
	m := New(nil)

	m.SetError("source unauthorized")
	if m.GetStats()["is_healthy"].(bool) {
		t.Fatal("expected unhealthy after error")
	}
	m.SetLastRun()
	stats := m.GetStats()
	if !stats["is_healthy"].(bool) {
		t.Error("expected healthy after successful run")
	}
	if stats["run_count"].(int64) != 1 {
		t.Errorf("run_count = %v", stats["run_count"])
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AddFetched(1)
	m.IncRerank("ok")
	m.SetError("x")
	if !m.GetStats()["is_healthy"].(bool) {
		t.Error("nil metrics should report healthy")
	}
}
