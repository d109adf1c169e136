package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is a thin wrapper around the go-redis client for the few
// key-value operations the backend needs.
type Client struct {
	client *redis.Client
}

// NewClient connects to the Redis instance at addr, given either as a
// redis:// URL or a bare host:port. An empty addr targets localhost.
func NewClient(addr string) *Client {
	if addr == "" {
		addr = "localhost:6379"
	}
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		if parsed, err := redis.ParseURL(addr); err == nil {
			opts = parsed
		}
	}
	return &Client{client: redis.NewClient(opts)}
}

func (r *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *Client) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *Client) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Ping verifies connectivity; used by health checks
func (r *Client) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
