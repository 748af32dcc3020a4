// Package producer publishes outbox records to Kafka. Every write is
// synchronous and acknowledged so the outbox only marks rows processed once
// the broker holds them.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrClosed is returned by Produce and Health after Close.
var ErrClosed = errors.New("kafka producer is closed")

// Message is one record to publish. Headers are written in key order.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Config holds the producer settings read from KAFKA_*.
type Config struct {
	Brokers         []string
	ClientID        string
	Acks            string // "0", "1" or "all"
	Retries         int
	DeliveryTimeout time.Duration
}

// Producer wraps a franz-go client.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
	closed atomic.Bool
}

// ParseAcks maps a KAFKA_ACKS value to the franz-go setting. Empty means all.
func ParseAcks(s string) (kgo.Acks, error) {
	switch s {
	case "0":
		return kgo.NoAck(), nil
	case "1":
		return kgo.LeaderAck(), nil
	case "", "all", "-1":
		return kgo.AllISRAcks(), nil
	default:
		return kgo.Acks{}, fmt.Errorf("kafka acks %q: want 0, 1 or all", s)
	}
}

// New builds a producer. The client connects lazily, so New succeeds while
// the brokers are still starting.
func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	acks, err := ParseAcks(cfg.Acks)
	if err != nil {
		return nil, err
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(acks),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.Retries > 0 {
		opts = append(opts, kgo.RecordRetries(cfg.Retries))
	}
	// Records for one token share a key and must land in seq order; that needs
	// idempotent writes with one request in flight, which franz-go only allows
	// with acks=all.
	if acks == kgo.AllISRAcks() {
		opts = append(opts, kgo.MaxProduceRequestsInflightPerBroker(1))
	} else {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

func recordHeaders(h map[string]string) []kgo.RecordHeader {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kgo.RecordHeader, 0, len(keys))
	for _, k := range keys {
		out = append(out, kgo.RecordHeader{Key: k, Value: []byte(h[k])})
	}
	return out
}

// Produce sends msg and blocks until the broker acknowledges it.
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	if p.closed.Load() {
		return ErrClosed
	}
	record := &kgo.Record{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: recordHeaders(msg.Headers),
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", msg.Topic, err)
	}
	return nil
}

// Health pings the brokers; it backs the readiness check.
func (p *Producer) Health(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka unreachable: %w", err)
	}
	return nil
}

// Close flushes buffered records and shuts the client down. It is safe to
// call more than once.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka producer closed with unflushed records", "error", err)
	}
	p.client.Close()
	return nil
}
