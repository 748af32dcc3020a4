//go:build integration

package containers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaContainer is a Kafka-compatible broker. Container is nil when
// TEST_KAFKA_BROKERS supplied the brokers.
type KafkaContainer struct {
	Container testcontainers.Container
	Brokers   []string
}

// NewKafkaContainer starts a single Redpanda broker.
func NewKafkaContainer(t *testing.T) *KafkaContainer {
	t.Helper()
	ctx := context.Background()

	if brokers, ok := external("TEST_KAFKA_BROKERS"); ok {
		return &KafkaContainer{Brokers: strings.Split(brokers, ",")}
	}
	c, err := kafka.Run(ctx,
		"redpandadata/redpanda:latest",
		kafka.WithClusterID("trustid-test"),
	)
	if err != nil {
		abort(t, nil, "start kafka", err)
	}
	brokers, err := c.Brokers(ctx)
	if err != nil {
		abort(t, c, "kafka brokers", err)
	}
	return &KafkaContainer{Container: c, Brokers: brokers}
}

// Topic creates a single-partition topic unique to the calling test, so
// suites sharing the broker never read each other's records.
func (k *KafkaContainer) Topic(t *testing.T) string {
	t.Helper()
	topic := "trustid-test-" + uuid.NewString()[:8]

	client, err := kgo.NewClient(kgo.SeedBrokers(k.Brokers...))
	if err != nil {
		t.Fatalf("kafka admin client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := kadm.NewClient(client).CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		t.Fatalf("create topic %s: %v", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			t.Fatalf("create topic %s: %v", topic, r.Err)
		}
	}
	return topic
}

// Consume reads topic from the start until n records arrived or the
// timeout passed, returning them in offset order.
func (k *KafkaContainer) Consume(ctx context.Context, topic string, n int, timeout time.Duration) ([]*kgo.Record, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(k.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []*kgo.Record
	for len(out) < n {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			return out, fmt.Errorf("consumed %d of %d records from %s: %w", len(out), n, topic, ctx.Err())
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return out, errs[0].Err
		}
		out = append(out, fetches.Records()...)
	}
	return out, nil
}
