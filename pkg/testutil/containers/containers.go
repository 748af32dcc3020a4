//go:build integration

// Package containers starts the backing services integration tests run
// against. Each service starts at most once per test binary and is shared by
// every suite; Ryuk removes the containers when the process exits. Setting
// TEST_DATABASE_URL, TEST_REDIS_URL or TEST_KAFKA_BROKERS points a fixture
// at an already running service instead.
package containers

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// fixture lazily builds one shared value.
type fixture[T any] struct {
	mu sync.Mutex
	v  *T
}

func (f *fixture[T]) get(t *testing.T, start func(*testing.T) *T) *T {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.v == nil {
		f.v = start(t)
	}
	return f.v
}

// Manager hands out the shared fixtures.
type Manager struct {
	postgres fixture[PostgresContainer]
	redis    fixture[RedisContainer]
	kafka    fixture[KafkaContainer]
}

var manager = &Manager{}

// GetManager returns the process-wide manager.
func GetManager() *Manager { return manager }

// GetPostgres returns a migrated Postgres.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	return m.postgres.get(t, NewPostgresContainer)
}

// GetRedis returns a Redis with an open client.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	return m.redis.get(t, NewRedisContainer)
}

// GetKafka returns a Kafka-compatible broker.
func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	t.Helper()
	return m.kafka.get(t, NewKafkaContainer)
}

// external returns the override for a fixture, if one is set.
func external(name string) (string, bool) {
	v := os.Getenv(name)
	return v, v != ""
}

// abort terminates a half-started container and fails the test.
func abort(t *testing.T, c testcontainers.Container, what string, err error) {
	t.Helper()
	if c != nil {
		_ = c.Terminate(context.Background()) //nolint:errcheck // already failing
	}
	t.Fatalf("%s: %v", what, err)
}
