package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ListAPI is the slice of go-redis used for the list-backed queue.
type ListAPI interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// RedisClient pushes messages on a Redis list and pops them from the other end.
type RedisClient struct {
	rdb ListAPI
	key string
}

// NewRedisClient parses url, verifies connectivity and returns a list queue on key.
func NewRedisClient(ctx context.Context, url, key string) (*RedisClient, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisClientWithAPI(rdb, key), rdb, nil
}

func NewRedisClientWithAPI(rdb ListAPI, key string) *RedisClient {
	return &RedisClient{rdb: rdb, key: key}
}

func (r *RedisClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode redis message: %w", err)
	}
	if err := r.rdb.LPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Receive blocks up to wait for the next raw message body. It returns ("", nil) when the wait elapses.
func (r *RedisClient) Receive(ctx context.Context, wait time.Duration) (string, error) {
	vals, err := r.rdb.BRPop(ctx, wait, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis brpop: %w", err)
	}
	// BRPOP replies with [key, value].
	if len(vals) != 2 {
		return "", fmt.Errorf("redis brpop: unexpected reply of %d items", len(vals))
	}
	return vals[1], nil
}

var _ Client = (*RedisClient)(nil)
