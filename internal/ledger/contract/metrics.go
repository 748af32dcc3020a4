package contract

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for ledger submissions.
type Metrics struct {
	Submissions *prometheus.CounterVec
	Retries     *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
}

// NewMetrics registers the contract collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustid_ledger_submissions_total",
			Help: "Ledger submissions by operation and outcome (applied, noop, rejected, unavailable, error)",
		}, []string{"operation", "outcome"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustid_ledger_submission_retries_total",
			Help: "Retried ledger submissions after a transport failure",
		}, []string{"operation"}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustid_ledger_submission_duration_seconds",
			Help:    "Ledger submission latency including retries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) observe(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(op, outcome).Inc()
	m.Latency.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) retry(op string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(op).Inc()
}
