package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nearx-labs/nearx/pkg/utils"
)

// Config holds the connection settings.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ConfigFromEnv reads:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
func ConfigFromEnv() Config {
	return Config{
		Host:     utils.Env("REDIS_HOST", "localhost"),
		Port:     utils.Env("REDIS_PORT", "6379"),
		Password: utils.Env("REDIS_PASSWORD", ""),
		DB:       utils.EnvInt("REDIS_DB", 0),
	}
}

// Client wraps the Redis client used for the balance cache, the balance lock
// and the block stream.
type Client struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

		// Timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", cfg.DB))

	return NewFromClient(rdb, logger), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb redis.UniversalClient, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{client: rdb, logger: logger}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// GetClient returns the underlying Redis client.
func (c *Client) GetClient() redis.UniversalClient {
	return c.client
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Redis Streams API
// =============================================================================

// XReadGroup reads entries from streams using a consumer group.
// Use ">" as lastID to read only new (undelivered) entries.
// Use "0" to re-read pending entries for this consumer.
func (c *Client) XReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
}

// XRead reads entries after the given IDs without a consumer group.
func (c *Client) XRead(ctx context.Context, streams []string, count int64, block time.Duration) ([]redis.XStream, error) {
	return c.client.XRead(ctx, &redis.XReadArgs{
		Streams: streams,
		Count:   count,
		Block:   block,
	}).Result()
}

// XAck acknowledges that entries have been processed by a consumer group.
func (c *Client) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	return c.client.XAck(ctx, stream, group, ids...).Result()
}

// XGroupCreate creates a consumer group, creating the stream if it doesn't exist.
// An existing group is not an error.
func (c *Client) XGroupCreate(ctx context.Context, stream, group, start string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// XAdd appends an entry; used by tooling that replays blocks into the stream.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	return c.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
}

// =============================================================================
// Progress
// =============================================================================

const lastHeightKey = "nearx:ledger:last_height"

// SetLastHeight records the last block whose events are durable.
func (c *Client) SetLastHeight(ctx context.Context, height uint64) error {
	return c.client.Set(ctx, lastHeightKey, height, 0).Err()
}

// LastHeight returns the last recorded height, or 0 when nothing was recorded.
func (c *Client) LastHeight(ctx context.Context) (uint64, error) {
	h, err := c.client.Get(ctx, lastHeightKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return h, err
}
