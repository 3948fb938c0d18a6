package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "doss:state:"

var _ StateStore = (*RedisStateStore)(nil)

// RedisStateStore implements StateStore with one Redis hash per object.
type RedisStateStore struct {
	client *redis.Client
}

// NewRedisStateStore connects to the Redis server at redisURL and verifies the
// connection.
func NewRedisStateStore(ctx context.Context, redisURL string) (*RedisStateStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStateStore{client: client}, nil
}

// objectHash returns the hash holding all state of one object. The service
// name and key are length-prefixed so no pair of them can collide.
func objectHash(service, objectKey string) string {
	return fmt.Sprintf("%s%d:%s:%s", redisKeyPrefix, len(service), service, objectKey)
}

// Close closes the Redis client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

// GetState reads one field of the object's hash.
func (s *RedisStateStore) GetState(ctx context.Context, service, objectKey, stateKey string) ([]byte, bool, error) {
	v, err := s.client.HGet(ctx, objectHash(service, objectKey), stateKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get state: %w", err)
	}
	return v, true, nil
}

// SetState writes one field of the object's hash.
func (s *RedisStateStore) SetState(ctx context.Context, service, objectKey, stateKey string, value []byte) error {
	if err := s.client.HSet(ctx, objectHash(service, objectKey), stateKey, value).Err(); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

// ClearState removes one field of the object's hash.
func (s *RedisStateStore) ClearState(ctx context.Context, service, objectKey, stateKey string) error {
	if err := s.client.HDel(ctx, objectHash(service, objectKey), stateKey).Err(); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

// ClearAllState deletes the object's hash.
func (s *RedisStateStore) ClearAllState(ctx context.Context, service, objectKey string) error {
	if err := s.client.Del(ctx, objectHash(service, objectKey)).Err(); err != nil {
		return fmt.Errorf("clear all state: %w", err)
	}
	return nil
}
