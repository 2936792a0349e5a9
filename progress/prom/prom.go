package prom

import (
	"context"

	"dtsynth/progress"

	"github.com/prometheus/client_golang/prometheus"
)

var _ progress.Sink = (*Sink)(nil)

// Sink mirrors the latest snapshot into Prometheus gauges and counts events by kind.
type Sink struct {
	events       *prometheus.CounterVec
	evaluated    prometheus.Gauge
	improvements prometheus.Gauge
	frontier     prometheus.Gauge
	best         prometheus.Gauge
	lowerBound   prometheus.Gauge
	treeSize     prometheus.Gauge
	treeDepth    prometheus.Gauge
}

// New registers the synthesis metrics on reg.
func New(reg prometheus.Registerer) (*Sink, error) {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: "dtsynth_" + name, Help: help})
	}
	s := &Sink{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dtsynth_progress_events_total",
				Help: "Progress events emitted by the search engine",
			},
			[]string{"event"},
		),
		evaluated:    gauge("families_evaluated", "Families verified by the oracle in the current run"),
		improvements: gauge("improvements", "Improvements of the best value in the current run"),
		frontier:     gauge("frontier_size", "Families waiting in the search frontier"),
		best:         gauge("best_value", "Best objective value found so far"),
		lowerBound:   gauge("lower_bound", "Latest optimality bound reported by the oracle"),
		treeSize:     gauge("tree_size", "Node count of the best tree"),
		treeDepth:    gauge("tree_depth", "Depth of the best tree"),
	}
	collectors := []prometheus.Collector{s.events, s.evaluated, s.improvements, s.frontier, s.best, s.lowerBound, s.treeSize, s.treeDepth}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Sink) Emit(_ context.Context, snap progress.Snapshot) error {
	s.events.WithLabelValues(string(snap.Event)).Inc()
	s.evaluated.Set(float64(snap.FamiliesEvaluated))
	s.improvements.Set(float64(snap.ImprovementCount))
	setFloat(s.best, snap.BestValue)
	setFloat(s.lowerBound, snap.LowerBound)
	setInt(s.frontier, snap.FrontierSize)
	setInt(s.treeSize, snap.TreeSize)
	setInt(s.treeDepth, snap.TreeDepth)
	return nil
}

func setFloat(g prometheus.Gauge, v *float64) {
	if v != nil {
		g.Set(*v)
	}
}

func setInt(g prometheus.Gauge, v *int) {
	if v != nil {
		g.Set(float64(*v))
	}
}
