package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Remote is an optional distributed tier in front of the memory/disk tiers,
// useful when multiple server processes share one cache so a cold-started
// replica doesn't re-embed what its peers already computed. It is adapted
// from the example pack's Redis cache/lock repository: the locking half of
// that repository becomes Remote's deduplication primitive (AcquireLock /
// ReleaseLock), offering "only one of us computes this" semantics. No code
// in this repository calls AcquireLock or ReleaseLock.
type Remote struct {
	rdb *redis.Client
}

// NewRemote dials url and returns a Remote cache tier.
func NewRemote(url string) (*Remote, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Remote{rdb: rdb}, nil
}

func (r *Remote) Close() error { return r.rdb.Close() }

// Get reads a value previously written by Set on any process sharing this
// Redis instance.
func (r *Remote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.rdb.Get(ctx, "cache:"+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set writes value with an optional ttl visible to every process sharing
// this Redis instance.
func (r *Remote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, "cache:"+key, value, ttl).Err()
}

// Invalidate removes key from the shared tier.
func (r *Remote) Invalidate(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, "cache:"+key).Err()
}

// AcquireLock implements a "compute once across replicas" primitive: only
// the caller that wins the SETNX actually recomputes an expensive cache
// value (e.g. an embedding); everyone else waits and re-reads.
func (r *Remote) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, "lock:"+key, 1, ttl).Result()
}

// ReleaseLock releases a lock acquired by AcquireLock.
func (r *Remote) ReleaseLock(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, "lock:"+key).Err()
}
