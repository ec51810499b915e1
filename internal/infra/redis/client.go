package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "redeliver"

// Client wraps the Redis connection shared by the queue transport and the
// timeout store.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Client{rdb: rdb, prefix: prefix}, nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func (c *Client) queueKey(address string) string {
	return fmt.Sprintf("%s:queue:%s", c.prefix, address)
}

func (c *Client) processingKey(address string) string {
	return fmt.Sprintf("%s:processing:%s", c.prefix, address)
}

func (c *Client) leaseKey(address string) string {
	return fmt.Sprintf("%s:leases:%s", c.prefix, address)
}

func (c *Client) deferredKey(address string) string {
	return fmt.Sprintf("%s:deferred:%s", c.prefix, address)
}

func (c *Client) timeoutIndexKey() string {
	return fmt.Sprintf("%s:timeouts", c.prefix)
}

func (c *Client) timeoutKey(id string) string {
	return fmt.Sprintf("%s:timeout:%s", c.prefix, id)
}
