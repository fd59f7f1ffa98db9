package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/quotd/internal/version"
)

// findMetric gathers the registry and returns the family with the given name.
func findMetric(t *testing.T, m *ServerMetrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestConnectionOutcomes(t *testing.T) {
	m := New()

	m.IncAdmitted()
	m.IncAdmitted()
	m.IncDenied()

	mf := findMetric(t, m, "quotd_connections_total")
	if mf == nil {
		t.Fatal("quotd_connections_total not registered")
	}

	got := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == "outcome" {
				got[lp.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	if got["admitted"] != 2 {
		t.Errorf("admitted = %v, want 2", got["admitted"])
	}
	if got["denied"] != 1 {
		t.Errorf("denied = %v, want 1", got["denied"])
	}
}

func TestRecordDecay(t *testing.T) {
	m := New()

	m.RecordDecay(7)
	m.RecordDecay(3)

	ticks := findMetric(t, m, "quotd_ratelimit_decay_ticks_total")
	if ticks == nil || ticks.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Fatalf("decay ticks = %v, want 2", ticks)
	}

	tracked := findMetric(t, m, "quotd_ratelimit_tracked_sources")
	if tracked == nil || tracked.GetMetric()[0].GetGauge().GetValue() != 3 {
		t.Fatalf("tracked sources gauge should hold the latest value 3")
	}
}

func TestBuildInfo(t *testing.T) {
	m := New()
	m.SetBuildInfoFromVersion(version.Info{
		AppName:   "quotd",
		Version:   "1.2.3",
		Commit:    "abc123",
		GoVersion: "go1.24",
	})

	mf := findMetric(t, m, "build_info")
	if mf == nil {
		t.Fatal("build_info not registered")
	}
	metric := mf.GetMetric()[0]
	if metric.GetGauge().GetValue() != 1 {
		t.Error("build_info value should be 1")
	}
	labels := map[string]string{}
	for _, lp := range metric.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	if labels["version"] != "1.2.3" || labels["app"] != "quotd" {
		t.Errorf("labels = %v", labels)
	}
}

func TestHandler_ServesExposition(t *testing.T) {
	m := New()
	m.IncAdmitted()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "quotd_connections_total") {
		t.Error("exposition should include quotd_connections_total")
	}
}
