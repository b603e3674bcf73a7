package store

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// RedisBackend keeps the value as a plain string at one key.
type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	return &RedisBackend{client: client, key: key}
}

func (r *RedisBackend) Read(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, ErrAbsent
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *RedisBackend) Write(ctx context.Context, data []byte) error {
	return r.client.Set(ctx, r.key, data, 0).Err()
}
