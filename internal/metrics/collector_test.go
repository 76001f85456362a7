package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/roman-kulish/emscan/internal/geometry"
	"github.com/roman-kulish/emscan/internal/scan"
)

func TestCollectorRecordsRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.HandleEvent(scan.Event{Type: scan.EventRunStarted, Run: &scan.RunInfo{
		Positions: []geometry.Point{geometry.Pt(1, 1), geometry.Pt(2, 2)},
	}})
	if got := testutil.ToFloat64(c.Scanning); got != 1 {
		t.Fatalf("emscan_scanning = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.PositionCount); got != 2 {
		t.Fatalf("emscan_position_count = %v, want 2", got)
	}

	c.HandleEvent(scan.Event{Type: scan.EventPositionStarted, PositionIndex: 1, PositionCount: 2, PairsPerCycle: 6})
	for i := 1; i <= 3; i++ {
		c.HandleEvent(scan.Event{
			Type:          scan.EventSweep,
			Parameters:    []string{"S11", "S21"},
			SweepDuration: 750 * time.Millisecond,
			PairsMeasured: i,
		})
	}
	c.HandleEvent(scan.Event{Type: scan.EventFault, Fault: &scan.Fault{Kind: scan.KindMissingData, Err: errors.New("short")}})
	c.HandleEvent(scan.Event{Type: scan.EventRunFinished, Outcome: scan.OutcomeFaulted})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"sweeps S11", testutil.ToFloat64(c.Sweeps.WithLabelValues("S11")), 3},
		{"sweeps S21", testutil.ToFloat64(c.Sweeps.WithLabelValues("S21")), 3},
		{"faults", testutil.ToFloat64(c.Faults.WithLabelValues("missing_data")), 1},
		{"runs", testutil.ToFloat64(c.Runs.WithLabelValues("faulted")), 1},
		{"position", testutil.ToFloat64(c.Position), 1},
		{"pairs measured", testutil.ToFloat64(c.PairsMeasured), 3},
		{"pairs per position", testutil.ToFloat64(c.PairsPerCycle), 6},
		{"scanning", testutil.ToFloat64(c.Scanning), 0},
	}
	for _, check := range checks {
		if check.got != check.want {
			t.Errorf("%s = %v, want %v", check.name, check.got, check.want)
		}
	}

	if n := testutil.CollectAndCount(c.SweepDuration); n != 1 {
		t.Errorf("sweep duration series = %d, want 1", n)
	}
}

func TestCollectorReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}

	first.Runs.WithLabelValues("completed").Inc()
	if got := testutil.ToFloat64(second.Runs.WithLabelValues("completed")); got != 1 {
		t.Fatalf("shared emscan_runs_total = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.Runs.WithLabelValues("completed").Inc()
	c.Sweeps.WithLabelValues("S21").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{"emscan_runs_total", "emscan_sweeps_total", "emscan_scanning", "emscan_sweep_duration_seconds"} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestNilCollectorIgnoresEvents(t *testing.T) {
	var c *Collector
	c.HandleEvent(scan.Event{Type: scan.EventRunFinished})
}

func TestSweepDurationObserved(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	for _, d := range []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond} {
		c.HandleEvent(scan.Event{Type: scan.EventSweep, Parameters: []string{"S21"}, SweepDuration: d})
	}

	var m dto.Metric
	if err = c.SweepDuration.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	h := m.GetHistogram()
	if got := h.GetSampleCount(); got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
	if got := h.GetSampleSum(); got != 2 {
		t.Errorf("sample sum = %v, want 2", got)
	}
}
