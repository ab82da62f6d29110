package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNilRegistererDisablesMetrics(t *testing.T) {
	m := New(nil)
	if m != nil {
		t.Fatal("expected New(nil) to return nil")
	}
	// every method must be a safe no-op on a nil *Metrics
	m.CacheHit()
	m.CacheMiss()
	m.CacheEviction()
	m.Flush()
	m.Compaction(0)
	m.BloomFalsePositive()
	m.SetL0Tables(3)
}

func TestCountersIncrementAndRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	if m == nil {
		t.Fatal("expected non-nil Metrics for a non-nil registerer")
	}

	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.Flush()
	m.Compaction(1)
	m.Compaction(1)
	m.BloomFalsePositive()
	m.SetL0Tables(5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	byName := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}

	if got := counterValue(t, byName, "lsmgo_cache_hits_total", nil); got != 2 {
		t.Fatalf("expected 2 cache hits, got %v", got)
	}
	if got := counterValue(t, byName, "lsmgo_cache_misses_total", nil); got != 1 {
		t.Fatalf("expected 1 cache miss, got %v", got)
	}
	if got := counterValue(t, byName, "lsmgo_flush_total", nil); got != 1 {
		t.Fatalf("expected 1 flush, got %v", got)
	}
	if got := counterValue(t, byName, "lsmgo_compaction_total", map[string]string{"level": "1"}); got != 2 {
		t.Fatalf("expected 2 compactions at level 1, got %v", got)
	}
	if got := counterValue(t, byName, "lsmgo_bloom_false_positives_total", nil); got != 1 {
		t.Fatalf("expected 1 bloom false positive, got %v", got)
	}

	gauge := byName["lsmgo_l0_tables"]
	if gauge == nil || gauge.Metric[0].GetGauge().GetValue() != 5 {
		t.Fatalf("expected l0 tables gauge set to 5, got %v", gauge)
	}
}

func counterValue(t *testing.T, families map[string]*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	fam, ok := families[name]
	if !ok {
		t.Fatalf("metric family %s not registered", name)
	}
	for _, metric := range fam.Metric {
		if labelsMatch(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("no metric in family %s matched labels %v", name, labels)
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(want) != len(pairs) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}
