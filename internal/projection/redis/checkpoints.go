// Package redis stores projection checkpoints in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trustid/internal/projection"
)

const keyPrefix = "trustid:projection:"

// Checkpoints implements projection.CheckpointStore with one key per view.
type Checkpoints struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Redis checkpoint store. A zero ttl keeps checkpoints forever.
func New(client *redis.Client, ttl time.Duration) *Checkpoints {
	return &Checkpoints{client: client, ttl: ttl}
}

func (c *Checkpoints) Load(ctx context.Context, view string) (projection.Checkpoint, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+view).Bytes()
	if errors.Is(err, redis.Nil) {
		return projection.Checkpoint{}, false, nil
	}
	if err != nil {
		return projection.Checkpoint{}, false, fmt.Errorf("load checkpoint %s: %w", view, err)
	}
	var cp projection.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return projection.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", view, err)
	}
	return cp, true, nil
}

// Save overwrites the view's checkpoint unless a newer one is already stored,
// so replicas that fold at different speeds never move the cursor backwards.
func (c *Checkpoints) Save(ctx context.Context, view string, cp projection.Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", view, err)
	}
	key := keyPrefix + view
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var stored projection.Checkpoint
			if json.Unmarshal(current, &stored) == nil && stored.Cursor >= cp.Cursor {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, c.ttl)
			return nil
		})
		return err
	}, key)
}

// Delete removes the view's checkpoint.
func (c *Checkpoints) Delete(ctx context.Context, view string) error {
	if err := c.client.Del(ctx, keyPrefix+view).Err(); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", view, err)
	}
	return nil
}
