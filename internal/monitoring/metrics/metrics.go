package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the membership/scope subsystem.
type Metrics struct {
	MembershipMutations  *prometheus.CounterVec
	TransfersBlocked     prometheus.Counter
	BusyRetries          prometheus.Counter
	ScopesMaterialized   prometheus.Counter
	ScopeModelsCaptured  prometheus.Counter
	ResolveScopeBySource *prometheus.CounterVec
	ResolveScopeDuration prometheus.Histogram
}

// New creates a Metrics instance with all subsystem metrics registered.
func New() *Metrics {
	return &Metrics{
		MembershipMutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "modelproof_membership_mutations_total",
			Help: "Total membership ledger mutations by operation",
		}, []string{"operation"}),
		TransfersBlocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modelproof_transfers_blocked_total",
			Help: "Total transfers rejected because the source plan had an active cycle",
		}),
		BusyRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modelproof_membership_busy_retries_total",
			Help: "Total internal retries after a plan lock wait timeout",
		}),
		ScopesMaterialized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modelproof_cycle_scopes_materialized_total",
			Help: "Total cycle scopes written at cycle start",
		}),
		ScopeModelsCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modelproof_cycle_scope_models_total",
			Help: "Total model rows captured into cycle scopes",
		}),
		ResolveScopeBySource: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "modelproof_resolve_scope_total",
			Help: "Total scope resolutions by winning fallback layer",
		}, []string{"source"}),
		ResolveScopeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "modelproof_resolve_scope_duration_seconds",
			Help:    "Duration of resolveScope calls (dashboard and permission path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// RecordMutation counts one ledger mutation (add, remove, transfer).
func (m *Metrics) RecordMutation(operation string) {
	if m == nil {
		return
	}
	m.MembershipMutations.WithLabelValues(operation).Inc()
}

// RecordTransferBlocked counts a transfer rejected by an active cycle.
func (m *Metrics) RecordTransferBlocked() {
	if m == nil {
		return
	}
	m.TransfersBlocked.Inc()
}

// RecordBusyRetry counts one internal lock-timeout retry.
func (m *Metrics) RecordBusyRetry() {
	if m == nil {
		return
	}
	m.BusyRetries.Inc()
}

// RecordMaterialization counts one scope write and its captured models.
func (m *Metrics) RecordMaterialization(modelCount int) {
	if m == nil {
		return
	}
	m.ScopesMaterialized.Inc()
	m.ScopeModelsCaptured.Add(float64(modelCount))
}

// ObserveResolve records a scope resolution with its winning source.
func (m *Metrics) ObserveResolve(source string, start time.Time) {
	if m == nil {
		return
	}
	m.ResolveScopeBySource.WithLabelValues(source).Inc()
	m.ResolveScopeDuration.Observe(time.Since(start).Seconds())
}
