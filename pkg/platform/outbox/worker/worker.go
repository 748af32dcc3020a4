package worker

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"trustid/internal/platform/kafka/producer"
	"trustid/pkg/platform/outbox"
	"trustid/pkg/platform/outbox/metrics"
)

// DefaultTopic receives every committed ledger event.
const DefaultTopic = "trustid.ledger.events"

// Publisher is the subset of the Kafka producer the worker needs.
type Publisher interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Worker polls the outbox table and publishes ledger events to Kafka.
type Worker struct {
	store        outbox.Store
	publisher    Publisher
	topic        string
	batchSize    int
	pollInterval time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Worker.
type Option func(*Worker)

func WithTopic(topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.topic = topic
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// New creates a new outbox worker.
func New(store outbox.Store, publisher Publisher, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		store:        store,
		publisher:    publisher,
		topic:        DefaultTopic,
		batchSize:    100,
		pollInterval: 200 * time.Millisecond,
		logger:       slog.Default(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the polling loop in a background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			if _, err := w.RunOnce(w.ctx); err != nil {
				w.logger.Error("outbox_poll_failed", "error", err)
			}
		}
	}
}

// RunOnce publishes one batch and returns how many entries were published.
// Entries that fail stay pending and are retried on the next poll.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()

	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		if w.metrics != nil {
			w.metrics.IncPublishFailures()
		}
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if w.metrics != nil {
		w.metrics.ObserveBatchSize(len(entries))
	}

	published := 0
	for _, entry := range entries {
		if err := w.publishEntry(ctx, entry); err != nil {
			w.logger.Error("failed to publish outbox entry",
				"id", entry.ID,
				"seq", entry.Seq,
				"event_type", entry.EventType,
				"error", err,
			)
			if w.metrics != nil {
				w.metrics.IncPublishFailures()
			}
			// Later entries would overtake this one; stop so the topic stays in ledger order.
			break
		}

		if err := w.store.MarkProcessed(ctx, entry.ID, time.Now()); err != nil {
			// Published but not marked: it will be re-published and consumers dedupe on seq.
			w.logger.Error("failed to mark entry as processed", "id", entry.ID, "error", err)
			continue
		}
		published++
		if w.metrics != nil {
			w.metrics.IncPublished()
		}
	}

	if w.metrics != nil {
		w.metrics.ObservePollDuration(time.Since(start).Seconds())
	}
	return published, nil
}

func (w *Worker) publishEntry(ctx context.Context, entry *outbox.Entry) error {
	start := time.Now()

	msg := &producer.Message{
		Topic: w.topic,
		Key:   []byte(entry.AggregateID),
		Value: entry.Payload,
		Headers: map[string]string{
			"aggregate_type": entry.AggregateType,
			"aggregate_id":   entry.AggregateID,
			"event_type":     entry.EventType,
			"seq":            strconv.FormatUint(entry.Seq, 10),
		},
	}
	if err := w.publisher.Produce(ctx, msg); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.ObservePublishDuration(time.Since(start).Seconds())
	}
	return nil
}

// drain processes remaining entries during shutdown.
func (w *Worker) drain() {
	w.logger.Info("draining outbox worker")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("failed to drain outbox", "error", err)
			return
		}
		if n == 0 {
			return
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateMetrics updates the pending depth metric.
func (w *Worker) UpdateMetrics(ctx context.Context) error {
	if w.metrics == nil {
		return nil
	}
	count, err := w.store.CountPending(ctx)
	if err != nil {
		return err
	}
	w.metrics.SetPendingDepth(count)
	return nil
}
