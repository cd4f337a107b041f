package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-bridge/internal/observability"

	"github.com/redis/go-redis/v9"
)

var ErrNotInitialized = errors.New("Redis client not initialized")

// Client wraps the Redis client with observability
type Client struct {
	client *redis.Client
	logger *observability.Logger
}

// NewClient creates a new Redis client and checks the connection
func NewClient(ctx context.Context, addr string, logger *observability.Logger) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info(observability.WithFields(ctx, observability.Field{Key: "addr", Value: addr}),
		"successfully connected to Redis")

	return &Client{
		client: client,
		logger: logger,
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ZAdd adds a member with score to a sorted set
func (c *Client) ZAdd(ctx context.Context, key string, members ...redis.Z) error {
	if !c.IsEnabled() {
		return ErrNotInitialized
	}
	return c.client.ZAdd(ctx, key, members...).Err()
}

// ZRemRangeByScore removes members whose score falls in [min, max]
func (c *Client) ZRemRangeByScore(ctx context.Context, key, min, max string) error {
	if !c.IsEnabled() {
		return ErrNotInitialized
	}
	return c.client.ZRemRangeByScore(ctx, key, min, max).Err()
}

// ZCard returns the number of members in a sorted set
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	if !c.IsEnabled() {
		return 0, ErrNotInitialized
	}
	return c.client.ZCard(ctx, key).Result()
}

// ZRangeWithScores returns members with scores in a sorted set (ascending)
func (c *Client) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]redis.Z, error) {
	if !c.IsEnabled() {
		return nil, ErrNotInitialized
	}
	return c.client.ZRangeWithScores(ctx, key, start, stop).Result()
}

// Expire sets an expiration on a key
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	if !c.IsEnabled() {
		return ErrNotInitialized
	}
	return c.client.Expire(ctx, key, expiration).Err()
}

// IsEnabled returns whether Redis is enabled
func (c *Client) IsEnabled() bool {
	return c != nil && c.client != nil
}
