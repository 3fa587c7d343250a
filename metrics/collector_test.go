package metrics

import (
	"strings"
	"testing"
	"time"

)

func TestCollectorCounts(t *testing.T) {
	m := NewCollector(NewPrometheus())

	m.RecordCapture("a-b", "forward", 2, "done")
	m.RecordCapture("c-d", "invalid_oneway", 0, "done")
	m.RecordUnit("", 120, 10*time.Millisecond)
	m.RecordUnit("refused", 0, time.Millisecond)
	m.RecordSessionFailure("superseded")
	m.RecordRevert()
	m.SetQueue(3, 1)

	snap := m.GetSnapshot()
	if snap.TotalCaptures != 2 || snap.ClassDist["forward"] != 1 || snap.ClassDist["invalid_oneway"] != 1 {
		t.Errorf("capture counts wrong: %+v", snap.ClassDist)
	}
	if snap.UnitsForwarded != 2 || snap.BytesForwarded != 120 || snap.ForwardErrors["refused"] != 1 {
		t.Errorf("unit counts wrong: %+v", snap)
	}
	if snap.Superseded != 1 || snap.Reverted != 1 || snap.QueuedSessions != 3 || snap.InFlight != 1 {
		t.Errorf("session counts wrong: %+v", snap)
	}
	if len(snap.RecentCaptures) != 2 || snap.RecentCaptures[0].Key != "c-d" {
		t.Errorf("recent captures should be newest first: %+v", snap.RecentCaptures)
	}

	// snapshot maps are copies
	snap.ClassDist["forward"] = 99
	if m.GetSnapshot().ClassDist["forward"] != 1 {
		t.Error("snapshot shares state with the collector")
	}

	p := m.Prometheus()
	if got := gathered(t, p, "httpcopy_captures_total", "forward"); got != 1 {
		t.Errorf("captures_total{class=forward} = %v", got)
	}
	if got := gathered(t, p, "httpcopy_units_forwarded_total", "ok"); got != 1 {
		t.Errorf("units_forwarded_total{result=ok} = %v", got)
	}
	if got := gathered(t, p, "httpcopy_queue_depth", ""); got != 3 {
		t.Errorf("queue_depth = %v", got)
	}
}

// gathered reads one counter or gauge value from the registry. label
// selects the series by its only label value; empty means unlabeled.
func gathered(t *testing.T, p *Prometheus, name, label string) float64 {
	t.Helper()
	families, err := p.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label != "" && (len(metric.GetLabel()) != 1 || metric.GetLabel()[0].GetValue() != label) {
				continue
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}

func TestCollectorRates(t *testing.T) {
	m := NewCollector(nil)
	start := m.lastUpdate

	m.RecordCapture("k", "forward", 1, "done")
	m.RecordCapture("k", "forward", 1, "done")
	m.updateRates(start.Add(2 * time.Second))

	snap := m.GetSnapshot()
	if snap.CurrentCPS != 1 {
		t.Errorf("CurrentCPS = %v, want 1", snap.CurrentCPS)
	}
	if len(snap.CaptureRate) != 1 {
		t.Errorf("expected one rate point, got %d", len(snap.CaptureRate))
	}
	if !strings.HasSuffix(snap.Uptime, "s") {
		t.Errorf("uptime %q", snap.Uptime)
	}
}

func TestRecentEventsBounded(t *testing.T) {
	m := NewCollector(nil)
	for i := 0; i < recentEvents+5; i++ {
		m.RecordEvent("info", "tick")
	}
	if got := len(m.GetSnapshot().RecentEvents); got != recentEvents {
		t.Errorf("recent events = %d, want %d", got, recentEvents)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{3*time.Minute + 2*time.Second, "3m 2s"},
		{26*time.Hour + time.Minute, "1d 2h 1m 0s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
