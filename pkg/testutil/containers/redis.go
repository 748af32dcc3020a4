//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisContainer is a reachable Redis with a connected client. Container is
// nil when TEST_REDIS_URL supplied the server.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *redis.Client
}

// NewRedisContainer starts Redis and pings it.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	rc := &RedisContainer{}
	if url, ok := external("TEST_REDIS_URL"); ok {
		rc.URL = url
	} else {
		c, err := tcredis.Run(ctx, "redis:7-alpine")
		if err != nil {
			abort(t, nil, "start redis", err)
		}
		rc.Container = c
		if rc.URL, err = c.ConnectionString(ctx); err != nil {
			abort(t, c, "redis connection string", err)
		}
	}

	opts, err := redis.ParseURL(rc.URL)
	if err != nil {
		abort(t, rc.Container, "parse redis url", err)
	}
	rc.Client = redis.NewClient(opts)
	if err := rc.Client.Ping(ctx).Err(); err != nil {
		_ = rc.Client.Close() //nolint:errcheck // already failing
		abort(t, rc.Container, "ping redis", err)
	}
	return rc
}

// FlushAll removes every key in the current database.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushDB(ctx).Err()
}
