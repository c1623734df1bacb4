// Package redis implements the draft store and the collaboration transport on Redis.
// Drafts are plain string keys; shared documents are hashes whose writes are guarded by
// WATCH/MULTI and announced on a pub/sub channel.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "tilth:"

// Connect parses a redis:// URL and checks the server is reachable.
func Connect(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
