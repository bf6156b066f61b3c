package embedding

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is the optional L2 tier shared across replicas, grounded on
// core/redis_client.go and core/redis_registry.go of the teacher framework
// (same go-redis/v8 client, same "optional, wraps a local tier" shape as
// core.MemoryStore's Redis-backed sibling).
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisCache{client: client, ttl: ttl, prefix: "cortexd:embed:"}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (r *RedisCache) Put(ctx context.Context, key string, value []float32) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	r.client.Set(ctx, r.prefix+key, data, r.ttl)
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
