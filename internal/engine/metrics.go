package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's instrumentation. All collectors are registered
// against the given registerer so tests can use isolated registries.
type Metrics struct {
	NodesTotal   *prometheus.CounterVec
	NodeDuration *prometheus.HistogramVec
	RunsTotal    *prometheus.CounterVec
	ActiveRuns   prometheus.Gauge
	Reconnects   prometheus.Counter
}

// NewMetrics builds and registers the collector set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opcflow",
			Name:      "nodes_total",
			Help:      "Node executions by node type and terminal status.",
		}, []string{"type", "status"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opcflow",
			Name:      "node_duration_seconds",
			Help:      "Wall-clock duration of node executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opcflow",
			Name:      "runs_total",
			Help:      "Completed runs by terminal status.",
		}, []string{"status"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opcflow",
			Name:      "active_runs",
			Help:      "Runs currently executing.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opcflow",
			Name:      "session_reconnects_total",
			Help:      "OPC-UA session recoveries observed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.NodesTotal, m.NodeDuration, m.RunsTotal, m.ActiveRuns, m.Reconnects)
	}
	return m
}
