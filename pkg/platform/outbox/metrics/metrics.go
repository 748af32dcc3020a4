package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the outbox worker.
type Metrics struct {
	PendingDepth    prometheus.Gauge
	PublishedTotal  prometheus.Counter
	PublishFailures prometheus.Counter
	PublishDuration prometheus.Histogram
	BatchSize       prometheus.Histogram
	PollDuration    prometheus.Histogram
}

// New registers the outbox metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PendingDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustid_outbox_pending_total",
			Help: "Current number of pending (unprocessed) outbox entries",
		}),
		PublishedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "trustid_outbox_published_total",
			Help: "Total number of ledger events published to Kafka",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "trustid_outbox_publish_failures_total",
			Help: "Total number of outbox publish failures",
		}),
		PublishDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustid_outbox_publish_duration_seconds",
			Help:    "Time taken to publish an outbox entry to Kafka",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustid_outbox_batch_size",
			Help:    "Number of entries processed per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustid_outbox_poll_duration_seconds",
			Help:    "Time taken for each poll cycle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) SetPendingDepth(count int64) {
	m.PendingDepth.Set(float64(count))
}

func (m *Metrics) IncPublished() {
	m.PublishedTotal.Inc()
}

func (m *Metrics) IncPublishFailures() {
	m.PublishFailures.Inc()
}

func (m *Metrics) ObservePublishDuration(durationSeconds float64) {
	m.PublishDuration.Observe(durationSeconds)
}

func (m *Metrics) ObserveBatchSize(size int) {
	m.BatchSize.Observe(float64(size))
}

func (m *Metrics) ObservePollDuration(durationSeconds float64) {
	m.PollDuration.Observe(durationSeconds)
}
