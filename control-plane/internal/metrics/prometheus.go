package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pilot-net/selfheal/pkg/types"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Cycle metrics
	CyclesTotal *prometheus.CounterVec

	// Repair metrics
	RepairsTotal     *prometheus.CounterVec
	RepairsIgnored   prometheus.Counter
	RepairDuration   *prometheus.HistogramVec
	RepairInFlight   prometheus.Gauge
	AuditSuccessRate prometheus.Gauge

	// State metrics
	SystemHealth   prometheus.Gauge
	OpenIssues     prometheus.Gauge
	PendingActions prometheus.Gauge
	ActiveAlerts   *prometheus.GaugeVec
}

// NewMetrics creates Prometheus metrics on a dedicated registry, together
// with the standard Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "selfheal_cycles_total",
				Help: "Total number of diagnosis and prediction cycles by final state",
			},
			[]string{"loop", "result"},
		),

		RepairsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "selfheal_repairs_total",
				Help: "Total number of executed repairs and preventive actions",
			},
			[]string{"kind", "outcome"},
		),

		RepairsIgnored: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "selfheal_repairs_ignored_total",
				Help: "Repair triggers ignored because another repair was in flight",
			},
		),

		RepairDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "selfheal_repair_duration_seconds",
				Help:    "Duration of repairs and preventive actions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		RepairInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "selfheal_repair_in_flight",
				Help: "1 while an issue repair is running",
			},
		),

		AuditSuccessRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "selfheal_audit_success_rate",
				Help: "Success rate over the retained audit log, in percent",
			},
		),

		SystemHealth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "selfheal_system_health",
				Help: "System health reported by the last diagnosis",
			},
		),

		OpenIssues: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "selfheal_open_issues",
				Help: "Number of open issues",
			},
		),

		PendingActions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "selfheal_pending_actions",
				Help: "Number of preventive actions awaiting execution",
			},
		),

		ActiveAlerts: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "selfheal_active_alerts",
				Help: "Number of active component alerts",
			},
			[]string{"type", "severity"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// =============================================================================
// ENGINE RECORDER
// =============================================================================

// CycleFinished counts a finished scheduler cycle.
func (m *Metrics) CycleFinished(loop string, state types.TaskState) {
	m.CyclesTotal.WithLabelValues(loop, string(state)).Inc()
}

// RepairFinished counts a finished job and observes its duration.
func (m *Metrics) RepairFinished(kind types.JobKind, outcome types.Outcome, d time.Duration) {
	m.RepairsTotal.WithLabelValues(string(kind), string(outcome)).Inc()
	m.RepairDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// RepairIgnored counts a trigger dropped by the single-flight gate.
func (m *Metrics) RepairIgnored() {
	m.RepairsIgnored.Inc()
}

// StateGauges is the subset of engine state exported as gauges.
type StateGauges struct {
	SystemHealth   int
	OpenIssues     int
	PendingActions int
	RepairInFlight bool
	SuccessRate    int
	Alerts         []types.Alert
}

// ObserveState updates the state gauges.
func (m *Metrics) ObserveState(s StateGauges) {
	m.SystemHealth.Set(float64(s.SystemHealth))
	m.OpenIssues.Set(float64(s.OpenIssues))
	m.PendingActions.Set(float64(s.PendingActions))
	m.AuditSuccessRate.Set(float64(s.SuccessRate))
	if s.RepairInFlight {
		m.RepairInFlight.Set(1)
	} else {
		m.RepairInFlight.Set(0)
	}

	m.ActiveAlerts.Reset()
	for _, a := range s.Alerts {
		m.ActiveAlerts.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}
