package repository

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

const ingestDedupKeyPrefix = "videoagent:ingest:"

// Cache defines the ephemeral coordination state kept in Redis.
type Cache interface {
	// MarkObjectSeen records an ingest trigger for the object and reports
	// whether this is the first trigger within the dedup window. Duplicate
	// storage notifications inside the window return false and must be
	// dropped by the caller.
	MarkObjectSeen(ctx context.Context, ref types.ObjectRef, window time.Duration) (bool, error)

	// ForgetObject clears the dedup marker, letting the object be ingested
	// again. Called when starting the workflow fails after the marker was
	// set.
	ForgetObject(ctx context.Context, ref types.ObjectRef) error
}

type cache struct {
	client *goredis.Client
}

// NewCache returns the Redis-backed Cache implementation.
func NewCache(client *goredis.Client) Cache {
	return &cache{client: client}
}

func (c *cache) MarkObjectSeen(ctx context.Context, ref types.ObjectRef, window time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, ingestDedupKeyPrefix+ref.String(), time.Now().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("marking object seen: %w", err)
	}
	return ok, nil
}

func (c *cache) ForgetObject(ctx context.Context, ref types.ObjectRef) error {
	if err := c.client.Del(ctx, ingestDedupKeyPrefix+ref.String()).Err(); err != nil {
		return fmt.Errorf("forgetting object: %w", err)
	}
	return nil
}
