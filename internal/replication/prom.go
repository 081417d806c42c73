package replication

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// engineMetrics holds the Prometheus instrumentation for the engine.
// Everything lives on a private registry so multiple engines can coexist
// in one process (tests run several).
type engineMetrics struct {
	registry *prometheus.Registry

	regionLagMs       *prometheus.GaugeVec
	slaBreached       *prometheus.GaugeVec
	failoversTotal    *prometheus.CounterVec
	conflictsTotal    *prometheus.CounterVec
	schemaPropsTotal  *prometheus.CounterVec
	snapshotsTotal    prometheus.Counter
	monitorTicksTotal *prometheus.CounterVec
}

func newEngineMetrics() *engineMetrics {
	m := &engineMetrics{
		registry: prometheus.NewRegistry(),
	}

	m.regionLagMs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "georep",
			Name:      "region_lag_ms",
			Help:      "Most recently observed replication lag per region in milliseconds",
		},
		[]string{"group", "region"},
	)

	m.slaBreached = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "georep",
			Name:      "sla_breached",
			Help:      "Whether the group's maximum observed lag exceeds its SLA (0 or 1)",
		},
		[]string{"group"},
	)

	m.failoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "georep",
			Name:      "failovers_total",
			Help:      "Total number of failovers triggered",
		},
		[]string{"group", "trigger"},
	)

	m.conflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "georep",
			Name:      "conflicts_total",
			Help:      "Total number of write conflicts recorded",
		},
		[]string{"group", "strategy"},
	)

	m.schemaPropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "georep",
			Name:      "schema_propagations_total",
			Help:      "Total number of schema propagations by final status",
		},
		[]string{"status"},
	)

	m.snapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "georep",
			Name:      "snapshots_created_total",
			Help:      "Total number of snapshots created",
		},
	)

	m.monitorTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "georep",
			Name:      "monitor_ticks_total",
			Help:      "Total number of monitor ticks per group",
		},
		[]string{"group"},
	)

	m.registry.MustRegister(
		m.regionLagMs,
		m.slaBreached,
		m.failoversTotal,
		m.conflictsTotal,
		m.schemaPropsTotal,
		m.snapshotsTotal,
		m.monitorTicksTotal,
	)

	return m
}

// Handler exposes the engine's registry in Prometheus exposition format
func (m *engineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// forgetGroup drops all per-group series after a group is deleted
func (m *engineMetrics) forgetGroup(groupID string) {
	m.regionLagMs.DeletePartialMatch(prometheus.Labels{"group": groupID})
	m.slaBreached.DeleteLabelValues(groupID)
	m.monitorTicksTotal.DeleteLabelValues(groupID)
}
