package namespace

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts namespace operations. A Manager without metrics records
// nothing.
type Metrics struct {
	Operations  *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	TreeNodes   *prometheus.GaugeVec
	StoreOpen   prometheus.Gauge
	Violations  prometheus.Counter
	TreeRebuild prometheus.Counter
}

// NewMetrics creates unregistered namespace metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nstree",
				Subsystem: "namespace",
				Name:      "operations_total",
				Help:      "Namespace operations by operation and result kind",
			},
			[]string{"operation", "result"},
		),

		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nstree",
				Subsystem: "namespace",
				Name:      "operation_duration_seconds",
				Help:      "Namespace operation duration in seconds, store I/O included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		TreeNodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "nstree",
				Subsystem: "tree",
				Name:      "nodes",
				Help:      "Nodes in the tree mirror by kind",
			},
			[]string{"kind"},
		),

		StoreOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nstree",
				Subsystem: "store",
				Name:      "open",
				Help:      "Store binding status (0=closed, 1=open)",
			},
		),

		Violations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nstree",
				Subsystem: "namespace",
				Name:      "consistency_violations_total",
				Help:      "Times the tree and store were observed to disagree",
			},
		),

		TreeRebuild: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nstree",
				Subsystem: "tree",
				Name:      "rebuilds_total",
				Help:      "Full tree rebuilds from the store",
			},
		),
	}
}

// Register adds every metric to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Operations, m.Duration, m.TreeNodes, m.StoreOpen, m.Violations, m.TreeRebuild,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordOperation counts one operation and its latency.
func (m *Metrics) RecordOperation(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, ErrorKind(err)).Inc()
	m.Duration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordViolation counts one detected disagreement between tree and store.
func (m *Metrics) RecordViolation() {
	if m == nil {
		return
	}
	m.Violations.Inc()
}

// RecordTree publishes the current node counts.
func (m *Metrics) RecordTree(groups, data int) {
	if m == nil {
		return
	}
	m.TreeNodes.WithLabelValues(KindGroup.String()).Set(float64(groups))
	m.TreeNodes.WithLabelValues(KindData.String()).Set(float64(data))
}

// RecordStoreOpen publishes the store binding status.
func (m *Metrics) RecordStoreOpen(open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1.0
	}
	m.StoreOpen.Set(value)
}

// RecordRebuild counts a full tree rebuild.
func (m *Metrics) RecordRebuild() {
	if m == nil {
		return
	}
	m.TreeRebuild.Inc()
}
