package projection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks fold work per view.
type Metrics struct {
	FoldedEvents *prometheus.CounterVec
	Recomputes   *prometheus.CounterVec
	Cursor       *prometheus.GaugeVec
	Lag          *prometheus.GaugeVec
	Checkpoints  *prometheus.CounterVec
}

// NewMetrics registers the projection collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FoldedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustid_projection_folded_events_total",
			Help: "Total number of ledger events folded into a view",
		}, []string{"view"}),
		Recomputes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustid_projection_recomputes_total",
			Help: "Total number of reads served by recomputing a historical prefix from genesis",
		}, []string{"view"}),
		Cursor: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trustid_projection_cursor",
			Help: "Last ledger seq folded into the memoized view",
		}, []string{"view"}),
		Lag: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trustid_projection_lag_events",
			Help: "Events between the ledger tip and the view cursor at the last read",
		}, []string{"view"}),
		Checkpoints: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustid_projection_checkpoints_total",
			Help: "Checkpoint operations by outcome",
		}, []string{"view", "op", "outcome"}),
	}
}
