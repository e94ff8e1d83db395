// Package store persists swap sessions to Redis and caches identified
// customer profiles in memory.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"app-swap-go/internal/pkg/logger"
)

// Client wraps the Redis connection used for session persistence.
type Client struct {
	rdb *redis.Client
	lc  logger.LoggingClient
}

// New creates a Redis client and verifies connectivity.
func New(addr, password string, db int, lc logger.LoggingClient) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect failed: %w", err)
	}

	return &Client{rdb: rdb, lc: lc}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
