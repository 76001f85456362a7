package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roman-kulish/emscan/internal/scan"
)

// Collector bundles the scan metrics and updates them from run events.
type Collector struct {
	gatherer prometheus.Gatherer

	Runs          *prometheus.CounterVec
	Sweeps        *prometheus.CounterVec
	Faults        *prometheus.CounterVec
	SweepDuration prometheus.Histogram

	Scanning      prometheus.Gauge
	Position      prometheus.Gauge
	PositionCount prometheus.Gauge
	PairsMeasured prometheus.Gauge
	PairsPerCycle prometheus.Gauge
}

// NewCollector registers the scan metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil. Metrics already
// registered by an earlier Collector are reused.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := Collector{gatherer: gatherer}
	var err error

	if c.Runs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emscan_runs_total",
		Help: "Total number of finished scan runs, labeled by outcome.",
	}, []string{"outcome"}), "emscan_runs_total"); err != nil {
		return nil, err
	}

	if c.Sweeps, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emscan_sweeps_total",
		Help: "Total number of sweeps written, labeled by S-parameter.",
	}, []string{"parameter"}), "emscan_sweeps_total"); err != nil {
		return nil, err
	}

	if c.Faults, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emscan_faults_total",
		Help: "Total number of scan faults, labeled by kind.",
	}, []string{"kind"}), "emscan_faults_total"); err != nil {
		return nil, err
	}

	if c.SweepDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "emscan_sweep_duration_seconds",
		Help:    "Time to switch a port pair and measure it, in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}), "emscan_sweep_duration_seconds"); err != nil {
		return nil, err
	}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.Scanning, "emscan_scanning", "1 while a run is in progress."},
		{&c.Position, "emscan_position_index", "Index of the position being measured."},
		{&c.PositionCount, "emscan_position_count", "Number of positions in the current run."},
		{&c.PairsMeasured, "emscan_pairs_measured", "Port pairs measured at the current position."},
		{&c.PairsPerCycle, "emscan_pairs_per_position", "Port pairs measured at every position."},
	}
	for _, g := range gauges {
		if *g.dst, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// HandleEvent implements scan.Observer.
func (c *Collector) HandleEvent(ev scan.Event) {
	if c == nil {
		return
	}

	switch ev.Type {
	case scan.EventRunStarted:
		c.Scanning.Set(1)
		c.Position.Set(0)
		c.PairsMeasured.Set(0)
		if ev.Run != nil {
			c.PositionCount.Set(float64(len(ev.Run.Positions)))
		}

	case scan.EventPositionStarted:
		c.Position.Set(float64(ev.PositionIndex))
		c.PositionCount.Set(float64(ev.PositionCount))
		c.PairsMeasured.Set(0)
		c.PairsPerCycle.Set(float64(ev.PairsPerCycle))

	case scan.EventSweep:
		for _, param := range ev.Parameters {
			c.Sweeps.WithLabelValues(param).Inc()
		}
		c.SweepDuration.Observe(ev.SweepDuration.Seconds())
		c.PairsMeasured.Set(float64(ev.PairsMeasured))

	case scan.EventFault:
		if ev.Fault != nil {
			c.Faults.WithLabelValues(ev.Fault.Kind.String()).Inc()
		}

	case scan.EventRunFinished:
		c.Scanning.Set(0)
		c.Runs.WithLabelValues(string(ev.Outcome)).Inc()
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return collector, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return collector, err
	}
	return collector, nil
}
