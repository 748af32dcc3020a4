package registration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the registration saga and its reconciler.
type Metrics struct {
	Registrations     *prometheus.CounterVec
	ReconcileRuns     *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	Discrepancies     *prometheus.GaugeVec
	ReconciledEntries *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustid_registrations_total",
			Help: "Registrations by role and outcome (completed, failed, reconciliation_pending)",
		}, []string{"role", "outcome"}),
		ReconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustid_reconciliation_runs_total",
			Help: "Reconciliation runs by outcome",
		}, []string{"outcome"}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustid_reconciliation_duration_seconds",
			Help:    "Duration of a reconciliation run",
			Buckets: prometheus.DefBuckets,
		}),
		Discrepancies: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trustid_reconciliation_discrepancies",
			Help: "Discrepancies left after the last reconciliation run, by kind",
		}, []string{"kind"}),
		ReconciledEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustid_reconciliation_entries_total",
			Help: "Journal entries and store rows settled by the reconciler, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) registration(role, outcome string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(role, outcome).Inc()
}

func (m *Metrics) reconciled(result string) {
	if m == nil {
		return
	}
	m.ReconciledEntries.WithLabelValues(result).Inc()
}
