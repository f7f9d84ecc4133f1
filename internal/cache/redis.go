package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store over Redis hashes: one hash per collection,
// one hash field per entry. Collections are namespaced with a prefix so
// several engine instances can share a server. A TTL is refreshed on every
// write so abandoned partitions age out on their own.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps client. An empty prefix defaults to "labres"; a zero
// ttl disables expiry.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "labres"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(collection string) string {
	return s.prefix + ":" + collection
}

// Put writes one hash field and refreshes the collection TTL.
func (s *RedisStore) Put(ctx context.Context, collection, field string, value []byte) error {
	key := s.key(collection)
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return err
	}
	if s.ttl > 0 {
		// Best effort; a missing expiry only means the key lives longer.
		_ = s.client.Expire(ctx, key, s.ttl).Err()
	}
	return nil
}

// Get reads one hash field.
func (s *RedisStore) Get(ctx context.Context, collection, field string) ([]byte, bool, error) {
	v, err := s.client.HGet(ctx, s.key(collection), field).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Delete removes one hash field.
func (s *RedisStore) Delete(ctx context.Context, collection, field string) error {
	return s.client.HDel(ctx, s.key(collection), field).Err()
}

// List returns every field of the collection.
func (s *RedisStore) List(ctx context.Context, collection string) (map[string][]byte, error) {
	m, err := s.client.HGetAll(ctx, s.key(collection)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(m))
	for f, v := range m {
		out[f] = []byte(v)
	}
	return out, nil
}

// Invalidate drops the collection.
func (s *RedisStore) Invalidate(ctx context.Context, collection string) error {
	return s.client.Del(ctx, s.key(collection)).Err()
}
