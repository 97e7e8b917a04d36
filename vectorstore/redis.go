package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the distributed Client implementation, grounded on the
// same go-redis/v9 connection pattern the example pack uses for its cache
// repository. Each collection is a Redis set of member ids plus one string
// key per vector holding its float32 vector and payload as JSON, which keeps the
// wiring simple while still exercising a real external dependency; a
// deployment that needs ANN-scale search swaps this for a RediSearch-aware
// client behind the same Client interface.
type RedisClient struct {
	rdb       *redis.Client
	keyPrefix string
}

// NewRedisClient dials url (e.g. redis://localhost:6379/0) and returns a
// RedisClient scoped under keyPrefix.
func NewRedisClient(url, keyPrefix string) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = "codeintel"
	}
	return &RedisClient{rdb: rdb, keyPrefix: keyPrefix}, nil
}

func (c *RedisClient) Close() error { return c.rdb.Close() }

func (c *RedisClient) setKey(collection string) string {
	return fmt.Sprintf("%s:vs:%s:members", c.keyPrefix, collection)
}

func (c *RedisClient) itemKey(collection, id string) string {
	return fmt.Sprintf("%s:vs:%s:item:%s", c.keyPrefix, collection, id)
}

type storedVector struct {
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

func (c *RedisClient) EnsureCollection(ctx context.Context, name string, dim int) error {
	return c.rdb.SetNX(ctx, fmt.Sprintf("%s:vs:%s:dim", c.keyPrefix, name), dim, 0).Err()
}

func (c *RedisClient) Upsert(ctx context.Context, collection, id string, vector []float32, payload Payload) error {
	data, err := json.Marshal(storedVector{Vector: vector, Payload: payload})
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.itemKey(collection, id), data, 0)
	pipe.SAdd(ctx, c.setKey(collection), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisClient) Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Match, error) {
	ids, err := c.rdb.SMembers(ctx, c.setKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(ids))
	for _, id := range ids {
		raw, err := c.rdb.Get(ctx, c.itemKey(collection, id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var sv storedVector
		if err := json.Unmarshal(raw, &sv); err != nil {
			return nil, err
		}
		if filter != nil && !matchesFilter(sv.Payload, filter) {
			continue
		}
		matches = append(matches, Match{ID: id, Score: CosineSimilarity(vector, sv.Vector), Payload: sv.Payload})
	}
	return matches, nil
}

func (c *RedisClient) Delete(ctx context.Context, collection, id string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, c.itemKey(collection, id))
	pipe.SRem(ctx, c.setKey(collection), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisClient) Get(ctx context.Context, collection, id string) (Payload, bool, error) {
	raw, err := c.rdb.Get(ctx, c.itemKey(collection, id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var sv storedVector
	if err := json.Unmarshal(raw, &sv); err != nil {
		return nil, false, err
	}
	return sv.Payload, true, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
