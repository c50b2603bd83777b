// Package metrics exposes Prometheus instrumentation for a table: how
// often each operation runs, how long it takes, and how big the table
// currently is. Each Table gets its own Registry rather than
// registering against prometheus's global DefaultRegisterer, since a
// process may open more than one table and duplicate registration
// against the global registry panics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter, histogram, and gauge a Table reports.
type Metrics struct {
	Registry *prometheus.Registry

	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	Rows               prometheus.Gauge
	BufferPoolFrames   prometheus.Gauge
	VacuumReclaimed    prometheus.Counter
	Poisoned           prometheus.Gauge
}

// New builds a Metrics bound to its own registry and labels every
// series with table, the table's base path, so multiple tables in one
// process stay distinguishable after their metrics are federated into
// a shared exporter.
func New(table string) *Metrics {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"table": table}

	m := &Metrics{
		Registry: reg,
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "flint_table_operations_total",
			Help:        "Total number of table operations, partitioned by kind and outcome.",
			ConstLabels: constLabels,
		}, []string{"op", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "flint_table_operation_duration_seconds",
			Help:        "Latency of table operations.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"op"}),
		Rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "flint_table_rows",
			Help:        "Current live row count.",
			ConstLabels: constLabels,
		}),
		BufferPoolFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "flint_table_buffer_pool_frames",
			Help:        "Number of frames currently resident in the buffer pool.",
			ConstLabels: constLabels,
		}),
		VacuumReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "flint_table_vacuum_reclaimed_total",
			Help:        "Total number of tombstoned row chains reclaimed by Vacuum.",
			ConstLabels: constLabels,
		}),
		Poisoned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "flint_table_poisoned",
			Help:        "1 if the table is poisoned (a corruption error left it closed for writes), 0 otherwise.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.Rows,
		m.BufferPoolFrames,
		m.VacuumReclaimed,
		m.Poisoned,
	)
	return m
}

// Observe records one call to op, its outcome, and how long it took.
func (m *Metrics) Observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
