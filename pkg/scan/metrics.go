package scan

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics of the scan engines sharing a registry.
type Metrics struct {
	Plans            *prometheus.CounterVec
	SnapshotsSkipped prometheus.Counter
	SplitsPlanned    *prometheus.CounterVec
	RowsPlanned      prometheus.Counter
	LastConsumed     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	plans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablestream_scan_plans_total",
		Help: "Plans produced, by kind",
	}, []string{"kind"})

	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tablestream_scan_snapshots_skipped_total",
		Help: "Snapshots consumed without producing a plan",
	})

	splits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablestream_scan_splits_total",
		Help: "Splits planned, by split kind",
	}, []string{"kind"})

	rows := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tablestream_scan_rows_planned_total",
		Help: "Estimated rows of the planned splits",
	})

	last := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tablestream_scan_last_consumed_snapshot",
		Help: "Id of the last consumed snapshot",
	})

	reg.MustRegister(plans, skipped, splits, rows, last)

	return &Metrics{
		Plans:            plans,
		SnapshotsSkipped: skipped,
		SplitsPlanned:    splits,
		RowsPlanned:      rows,
		LastConsumed:     last,
	}
}

func (m *Metrics) observePlan(kind string, plan *DataFilePlan) {
	if m == nil {
		return
	}
	m.Plans.WithLabelValues(kind).Inc()
	m.LastConsumed.Set(float64(plan.SnapshotID))
	m.RowsPlanned.Add(float64(plan.RowCount()))
	for _, s := range plan.Splits {
		m.SplitsPlanned.WithLabelValues(s.Kind.String()).Inc()
	}
}

func (m *Metrics) observeSkip(id int64) {
	if m == nil {
		return
	}
	m.SnapshotsSkipped.Inc()
	m.LastConsumed.Set(float64(id))
}
